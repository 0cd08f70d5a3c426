package renameservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/breaker"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/keypool"
	"github.com/1morr/anidown/internal/subtitlematch"
)

func TestClassify(t *testing.T) {
	cases := map[string]domain.FileClass{
		"ep01.mkv":  domain.FileVideo,
		"EP01.MP4":  domain.FileVideo,
		"ep01.srt":  domain.FileSubtitle,
		"ep01.ass":  domain.FileSubtitle,
		"poster.jpg": domain.FileOther,
		"readme.txt": domain.FileOther,
	}
	for name, want := range cases {
		if got := Classify(name); got != want {
			t.Errorf("Classify(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFormatTargetTV(t *testing.T) {
	got := FormatTarget("葬送的芙莉莲", domain.CategoryTV, 1, 2, "ANi", "", "CHT", ".mp4")
	want := "Season 1/葬送的芙莉莲 - S01E02 - ANi [CHT].mp4"
	if got != want {
		t.Fatalf("FormatTarget() = %q, want %q", got, want)
	}
}

func TestFormatTargetSpecial(t *testing.T) {
	got := FormatTarget("Show", domain.CategoryTV, 0, 1, "GRP", "SP", "CHS", ".mkv")
	want := "Season 0/Show - S00E01 - GRP [CHS].mkv"
	if got != want {
		t.Fatalf("FormatTarget() = %q, want %q", got, want)
	}
}

func TestFormatTargetMovie(t *testing.T) {
	got := FormatTarget("Movie Title", domain.CategoryMovie, 0, 0, "GRP", "", "CHT", ".mkv")
	want := "Movie Title - GRP [CHT].mkv"
	if got != want {
		t.Fatalf("FormatTarget() = %q, want %q", got, want)
	}
}

func TestRegexPathAppliesRequiresAllVideoFilesMatch(t *testing.T) {
	patterns := domain.AnimePatterns{EpisodeRegex: `E(\d+)`}
	files := []domain.TorrentFile{
		{Name: "Show - S01E01.mkv"},
		{Name: "Show - S01E02.mkv"},
		{Name: "poster.jpg"}, // FileOther, ignored
	}
	if !regexPathApplies(patterns, files) {
		t.Fatal("expected regex path to apply")
	}

	files = append(files, domain.TorrentFile{Name: "NCOP.mkv"}) // video, no match
	if regexPathApplies(patterns, files) {
		t.Fatal("expected regex path to be disqualified by a non-matching video file")
	}
}

func TestRegexPathDisabledWithoutStoredEpisodeRegex(t *testing.T) {
	patterns := domain.AnimePatterns{EpisodeRegex: domain.NoPattern}
	files := []domain.TorrentFile{{Name: "Show - S01E01.mkv"}}
	if regexPathApplies(patterns, files) {
		t.Fatal("expected regex path disabled when episode_regex is the none sentinel")
	}
}

func TestRegexPathAppliesIgnoresMismatchedSubtitle(t *testing.T) {
	patterns := domain.AnimePatterns{EpisodeRegex: `E(\d+)`}
	files := []domain.TorrentFile{
		{Name: "Show - S01E01.mkv"},
		{Name: "track_0.srt"}, // subtitle, doesn't match episode_regex
	}
	if !regexPathApplies(patterns, files) {
		t.Fatal("expected regex path to apply despite a non-matching subtitle")
	}
}

func newSubtitleMatcher(t *testing.T, matchesJSON string) *subtitlematch.Matcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": matchesJSON}},
			},
		}
		b, _ := json.Marshal(body)
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}))
	t.Cleanup(srv.Close)

	pool := keypool.New("subtitle_match", []domain.KeySpec{
		{KeyID: "k1", Enabled: true, UpstreamBaseURL: srv.URL, Secret: "s", ModelName: "m"},
	}, nil)
	client := aiclient.New("subtitle_match", pool, breaker.New("subtitle_match"), srv.Client(), 3, nil)
	return subtitlematch.New(client)
}

func TestDecideRegexPathPairsUnmatchedSubtitleViaAI(t *testing.T) {
	patterns := domain.AnimePatterns{EpisodeRegex: `E(\d+)`}
	files := []domain.TorrentFile{
		{Name: "Show - S01E01.mkv"},
		{Name: "track_0.srt"},
	}
	anime := domain.Anime{AnimeID: "a1", FullTitle: "Show", Category: domain.CategoryTV, Season: 1, SubtitleGroup: "GRP"}

	matcherJSON := `{"matches":{"Show - S01E01.mkv":"track_0.srt"}}`
	svc := New(nil)
	svc.Subtitle = newSubtitleMatcher(t, matcherJSON)

	plan, err := svc.Decide(context.Background(), anime, &patterns, files, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Method != domain.RenameMethodRegex {
		t.Fatalf("expected regex method, got %v", plan.Method)
	}

	var subEntry *domain.RenamePlanEntry
	for i := range plan.Entries {
		if plan.Entries[i].SourcePath == "track_0.srt" {
			subEntry = &plan.Entries[i]
		}
	}
	if subEntry == nil {
		t.Fatal("expected an entry for track_0.srt")
	}
	if subEntry.Skipped {
		t.Fatal("expected subtitle to be un-skipped after AI pairing")
	}
	if want := "Season 1/Show - S01E01 - GRP.srt"; subEntry.TargetRelativePath != want {
		t.Fatalf("TargetRelativePath = %q, want %q", subEntry.TargetRelativePath, want)
	}
}
