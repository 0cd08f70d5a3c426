// Package renameservice implements the Rename Service (C10): classifies a
// completed torrent's files, decides a rename plan regex-first against a
// series' stored AnimePatterns, and falls back to the File Renamer (C9)
// when no usable stored pattern exists.
package renameservice

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/filerenamer"
	"github.com/1morr/anidown/internal/metrics"
	"github.com/1morr/anidown/internal/subtitlematch"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true,
}

// Classify reports a file's extension-based class.
func Classify(filename string) domain.FileClass {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case videoExtensions[ext]:
		return domain.FileVideo
	case subtitleExtensions[ext]:
		return domain.FileSubtitle
	default:
		return domain.FileOther
	}
}

// Service decides renames for a torrent's files.
type Service struct {
	Renamer  *filerenamer.Renamer
	Subtitle *subtitlematch.Matcher // optional; nil disables AI subtitle pairing
}

func New(renamer *filerenamer.Renamer) *Service {
	return &Service{Renamer: renamer}
}

// Decide produces a RenamePlan for a torrent's files against one anime.
// When patterns is non-nil and every video file matches its
// episode_regex within sane bounds, the fast regex path is used; otherwise
// the AI fallback (C9) runs and, on success, the returned regex bundle is
// attached to the plan as NewPatterns for the caller to persist.
func (s *Service) Decide(ctx context.Context, anime domain.Anime, patterns *domain.AnimePatterns, files []domain.TorrentFile, previousHardlinks []string) (domain.RenamePlan, error) {
	if patterns != nil && regexPathApplies(*patterns, files) {
		entries, err := renameViaRegex(*patterns, anime, files)
		if err == nil {
			entries = s.fillUnmatchedSubtitles(ctx, entries)
			metrics.RenameDecisionsTotal.WithLabelValues(string(domain.RenameMethodRegex)).Inc()
			return domain.RenamePlan{Entries: entries, Method: domain.RenameMethodRegex}, nil
		}
		// Fall through to AI on an unexpected regex-path failure — a
		// malformed stored pattern should not block the torrent.
	}

	result, err := s.Renamer.Rename(ctx, files, anime.Category, anime.FullTitle, previousHardlinks, nil)
	if err != nil {
		return domain.RenamePlan{}, fmt.Errorf("renameservice: AI fallback: %w", err)
	}
	metrics.RenameDecisionsTotal.WithLabelValues(string(domain.RenameMethodAI)).Inc()

	entries := make([]domain.RenamePlanEntry, 0, len(files))
	for _, f := range files {
		if target, ok := result.MainFiles[f.Name]; ok {
			entries = append(entries, domain.RenamePlanEntry{
				SourcePath:         f.Name,
				TargetRelativePath: target,
				Class:              Classify(f.Name),
			})
			continue
		}
		entries = append(entries, domain.RenamePlanEntry{
			SourcePath: f.Name,
			Class:      Classify(f.Name),
			Skipped:    true,
		})
	}

	newPatterns := result.Patterns
	newPatterns.AnimeID = anime.AnimeID
	return domain.RenamePlan{
		Entries:     entries,
		NewPatterns: &newPatterns,
		Method:      domain.RenameMethodAI,
	}, nil
}

// fillUnmatchedSubtitles covers the regex path's remaining gap: a subtitle
// file whose name doesn't itself satisfy episode_regex (a fansub group
// numbering subtitle tracks independently of the video filename) is left
// Skipped by renameViaRegex. Rather than lose it, ask the subtitle_match AI
// purpose to pair it against the videos that were matched, and give it the
// matched video's target path with the subtitle's own extension. A nil
// Subtitle matcher (no purpose configured) or an upstream failure leaves
// the entries as regex produced them — never fatal to the torrent.
func (s *Service) fillUnmatchedSubtitles(ctx context.Context, entries []domain.RenamePlanEntry) []domain.RenamePlanEntry {
	if s.Subtitle == nil {
		return entries
	}

	var videoPaths, unmatchedSubPaths []string
	videoTarget := map[string]string{}
	unmatchedIdx := map[string]int{}
	for i, e := range entries {
		switch {
		case e.Class == domain.FileVideo && !e.Skipped:
			videoPaths = append(videoPaths, e.SourcePath)
			videoTarget[e.SourcePath] = e.TargetRelativePath
		case e.Class == domain.FileSubtitle && e.Skipped:
			unmatchedSubPaths = append(unmatchedSubPaths, e.SourcePath)
			unmatchedIdx[e.SourcePath] = i
		}
	}
	if len(videoPaths) == 0 || len(unmatchedSubPaths) == 0 {
		return entries
	}

	matches, err := s.Subtitle.Match(ctx, videoPaths, unmatchedSubPaths)
	if err != nil {
		return entries
	}
	for videoPath, subPath := range matches {
		idx, ok := unmatchedIdx[subPath]
		if !ok {
			continue
		}
		videoTgt, ok := videoTarget[videoPath]
		if !ok {
			continue
		}
		entries[idx].TargetRelativePath = withExt(videoTgt, filepath.Ext(subPath))
		entries[idx].Skipped = false
	}
	return entries
}

// withExt replaces target's extension with ext (which includes the dot).
func withExt(target, ext string) string {
	return strings.TrimSuffix(target, filepath.Ext(target)) + ext
}

// regexPathApplies reports whether every video file matches the stored
// episode_regex within sane bounds. A subtitle file that doesn't match is
// NOT disqualifying — a fansub group may number subtitle tracks
// differently than the video release; those are left for
// fillUnmatchedSubtitles (the subtitle_match AI purpose) to pair against
// the videos the regex already placed. A non-matching, clearly-ancillary
// file (non video/subtitle) never disqualifies the regex path either.
func regexPathApplies(patterns domain.AnimePatterns, files []domain.TorrentFile) bool {
	if !domain.Present(patterns.EpisodeRegex) {
		return false
	}
	re, err := regexp.Compile(patterns.EpisodeRegex)
	if err != nil {
		return false
	}
	matched := false
	for _, f := range files {
		if Classify(f.Name) != domain.FileVideo {
			continue
		}
		if !re.MatchString(fold(f.Name)) {
			return false
		}
		matched = true
	}
	return matched
}

// fold normalises full-width/half-width CJK forms before regex matching —
// anime release titles mix "０２" and "02", full-width brackets and ASCII.
func fold(s string) string {
	return width.Fold.String(s)
}

func renameViaRegex(patterns domain.AnimePatterns, anime domain.Anime, files []domain.TorrentFile) ([]domain.RenamePlanEntry, error) {
	episodeRe, err := regexp.Compile(patterns.EpisodeRegex)
	if err != nil {
		return nil, fmt.Errorf("renameservice: compile episode_regex: %w", err)
	}
	var specialRe, groupRe, subtitleTypeRe *regexp.Regexp
	if domain.Present(patterns.SpecialTagRegex) {
		specialRe, _ = regexp.Compile(patterns.SpecialTagRegex)
	}
	if domain.Present(patterns.SubtitleGroupRegex) {
		groupRe, _ = regexp.Compile(patterns.SubtitleGroupRegex)
	}
	if domain.Present(patterns.SubtitleTypeRegex) {
		subtitleTypeRe, _ = regexp.Compile(patterns.SubtitleTypeRegex)
	}

	entries := make([]domain.RenamePlanEntry, 0, len(files))
	for _, f := range files {
		class := Classify(f.Name)
		if class == domain.FileOther {
			entries = append(entries, domain.RenamePlanEntry{SourcePath: f.Name, Class: class, Skipped: true})
			continue
		}

		name := fold(f.Name)
		m := episodeRe.FindStringSubmatch(name)
		if len(m) < 2 {
			entries = append(entries, domain.RenamePlanEntry{SourcePath: f.Name, Class: class, Skipped: true})
			continue
		}
		episode, err := strconv.Atoi(m[1])
		if err != nil || episode < 0 || episode > 9999 {
			entries = append(entries, domain.RenamePlanEntry{SourcePath: f.Name, Class: class, Skipped: true})
			continue
		}

		special := ""
		if specialRe != nil {
			if sm := specialRe.FindStringSubmatch(name); len(sm) > 1 {
				special = sm[1]
			}
		}
		group := anime.SubtitleGroup
		if groupRe != nil {
			if gm := groupRe.FindStringSubmatch(name); len(gm) > 1 {
				group = gm[1]
			}
		}
		subType := ""
		if subtitleTypeRe != nil {
			if sm := subtitleTypeRe.FindStringSubmatch(name); len(sm) > 1 {
				subType = sm[1]
			}
		}

		season := anime.Season
		if special != "" {
			season = 0
		}
		target := FormatTarget(anime.FullTitle, anime.Category, season, episode, group, special, subType, filepath.Ext(f.Name))
		entries = append(entries, domain.RenamePlanEntry{
			SourcePath:         f.Name,
			TargetRelativePath: target,
			Class:              class,
		})
	}
	return entries, nil
}

// FormatTarget renders the naming template from spec §4.10. ext includes
// the leading dot.
func FormatTarget(title string, category domain.Category, season, episode int, group, special, subType, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	tags := formatTags(special, subType)

	if category == domain.CategoryMovie {
		return fmt.Sprintf("%s - %s%s.%s", title, group, tags, ext)
	}
	if season == 0 {
		return fmt.Sprintf("Season 0/%s - S00E%02d - %s%s.%s", title, episode, group, formatTags(subType), ext)
	}
	return fmt.Sprintf("Season %d/%s - S%02dE%02d - %s%s.%s", season, title, season, episode, group, tags, ext)
}

// formatTags renders the bracketed tag block, prefixed with a single space
// when it produces any output so callers can append it directly after the
// group name without a separate space check (and without a trailing space
// when there are no tags at all).
func formatTags(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(p)
		b.WriteString("]")
	}
	if b.Len() == 0 {
		return ""
	}
	return " " + b.String()
}
