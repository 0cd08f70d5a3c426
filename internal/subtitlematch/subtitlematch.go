// Package subtitlematch implements the third AI Client (C3) purpose named
// by spec §6/§9 alongside title-parse and multi-file-rename: pairing a
// subtitle file with the video file it belongs to when filename structure
// alone (the stored episode_regex) cannot decide it — e.g. a fansub group
// that numbers subtitle tracks independently of the video filename, or a
// batch where video and subtitle releases use different tagging schemes.
package subtitlematch

import (
	"context"
	"fmt"
	"strings"

	"github.com/1morr/anidown/internal/aiclient"
)

// Matcher wraps one aiclient.Client fixed to the subtitle_match purpose.
type Matcher struct {
	client *aiclient.Client
}

func New(client *aiclient.Client) *Matcher {
	return &Matcher{client: client}
}

// Match asks the upstream to pair each video file with its best-matching
// subtitle file (or none). Returns a map keyed by video path; a video with
// no confident match is simply absent from the result, not an error.
func (m *Matcher) Match(ctx context.Context, videoFiles, subtitleFiles []string) (map[string]string, error) {
	if m == nil || m.client == nil || len(subtitleFiles) == 0 {
		return map[string]string{}, nil
	}
	prompt := buildPrompt()
	userMsg := buildUserMessage(videoFiles, subtitleFiles)

	result, err := m.client.Call(ctx, prompt, userMsg, aiclient.SubtitleMatchSchema{}, nil)
	if err != nil {
		return nil, err
	}
	matched, ok := result.(aiclient.SubtitleMatchResult)
	if !ok {
		return nil, fmt.Errorf("subtitlematch: unexpected result type %T", result)
	}
	return matched.Matches, nil
}

func buildPrompt() string {
	return "You pair anime video files with their matching subtitle files from the " +
		"same torrent. Given a list of video file paths and a list of subtitle file " +
		"paths, return a JSON object {\"matches\": {video_path: subtitle_path}} " +
		"covering every video that has a confident subtitle match. Omit a video " +
		"entirely rather than guess when no subtitle confidently belongs to it. " +
		"Never invent a path not present in the input lists."
}

func buildUserMessage(videoFiles, subtitleFiles []string) string {
	var b strings.Builder
	b.WriteString("videos:\n")
	for _, v := range videoFiles {
		b.WriteString("- ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString("subtitles:\n")
	for _, s := range subtitleFiles {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}
