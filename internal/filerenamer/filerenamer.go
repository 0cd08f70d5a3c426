// Package filerenamer implements the File Renamer (C9): given a torrent's
// full file list, produces a full rename map plus a season-aware regex
// bundle, batching the AI call when the file set exceeds MaxBatchSize and
// carrying forward previously-materialised hardlink targets so generated
// paths across batches never collide.
package filerenamer

import (
	"context"
	"fmt"
	"sort"

	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
)

const (
	DefaultMaxBatchSize      = 30
	MaxAllowedBatchSize      = 100
	DefaultBatchRetries      = 2
)

// TVDBSeasonInfo is the season/episode-count boundary used for smart
// overflow reassignment; the upstream owns the final decision, this is
// only advisory input.
type TVDBSeasonInfo struct {
	SeasonNumber  int
	EpisodeCount  int
}

// Renamer wraps one aiclient.Client fixed to the multi_file_rename purpose.
type Renamer struct {
	client *aiclient.Client

	// MaxBatchSize is clamped to [1, MaxAllowedBatchSize]; 0 uses the default.
	MaxBatchSize int
	// BatchRetries is how many times in total a single batch call is
	// attempted as a whole (distinct from the aiclient's own per-HTTP-attempt
	// retries).
	BatchRetries int
}

func New(client *aiclient.Client, maxBatchSize, batchRetries int) *Renamer {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if maxBatchSize > MaxAllowedBatchSize {
		maxBatchSize = MaxAllowedBatchSize
	}
	if batchRetries <= 0 {
		batchRetries = DefaultBatchRetries
	}
	return &Renamer{client: client, MaxBatchSize: maxBatchSize, BatchRetries: batchRetries}
}

// Rename produces the full RenameResult for a torrent's file set,
// partitioning into batches when files exceeds MaxBatchSize. previousHardlinks
// are target relative paths already materialised by an earlier batch or an
// earlier invocation (e.g. a re-run after a partial failure); each batch's
// prompt is given the running set so it cannot reissue a colliding target.
func (r *Renamer) Rename(ctx context.Context, files []domain.TorrentFile, category domain.Category, animeTitle string, previousHardlinks []string, tvdb []TVDBSeasonInfo) (domain.RenameResult, error) {
	batches := partition(files, r.MaxBatchSize)

	result := domain.RenameResult{
		MainFiles:   map[string]string{},
		SeasonsInfo: map[string]domain.SeasonInfo{},
	}
	reserved := append([]string(nil), previousHardlinks...)

	for i, batch := range batches {
		userMsg := buildUserMessage(batch, category, animeTitle, reserved, tvdb)
		batchResult, err := r.callBatchWithRetry(ctx, userMsg)
		if err != nil {
			return domain.RenameResult{}, fmt.Errorf("filerenamer: batch %d/%d: %w", i+1, len(batches), err)
		}

		for src, target := range batchResult.MainFiles {
			result.MainFiles[src] = target
			reserved = append(reserved, target)
		}
		result.SkippedFiles = append(result.SkippedFiles, batchResult.SkippedFiles...)
		for season, info := range batchResult.SeasonsInfo {
			existing, ok := result.SeasonsInfo[season]
			if !ok {
				result.SeasonsInfo[season] = info
				continue
			}
			existing.Count += info.Count
			result.SeasonsInfo[season] = existing
		}

		// Header fields and the regex bundle are series-wide, not
		// per-batch; keep the first batch that actually produced usable
		// patterns (a later batch may return the "none" sentinel set if
		// its file subset lacked signal, e.g. a batch of pure subtitles).
		if result.Patterns == (domain.AnimePatterns{}) || !domain.Present(result.Patterns.EpisodeRegex) {
			result.Patterns = batchResult.Patterns
			result.AnimeFullTitle = batchResult.AnimeFullTitle
			result.AnimeCleanTitle = batchResult.AnimeCleanTitle
			result.SubtitleGroupName = batchResult.SubtitleGroupName
			result.Season = batchResult.Season
			result.Category = batchResult.Category
		}
	}

	return result, nil
}

func (r *Renamer) callBatchWithRetry(ctx context.Context, userMsg string) (domain.RenameResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.BatchRetries; attempt++ {
		out, err := r.client.Call(ctx, multiFileRenamePrompt, userMsg, aiclient.MultiFileRenameSchema{}, nil)
		if err == nil {
			renamed, ok := out.(domain.RenameResult)
			if !ok {
				return domain.RenameResult{}, fmt.Errorf("filerenamer: unexpected result type %T", out)
			}
			return renamed, nil
		}
		lastErr = err
		if kind, ok := apperr.KindOf(err); ok && kind == apperr.KindCircuitOpen {
			return domain.RenameResult{}, err
		}
	}
	return domain.RenameResult{}, lastErr
}

func partition(files []domain.TorrentFile, size int) [][]domain.TorrentFile {
	if len(files) == 0 {
		return nil
	}
	var batches [][]domain.TorrentFile
	for i := 0; i < len(files); i += size {
		end := i + size
		if end > len(files) {
			end = len(files)
		}
		batches = append(batches, files[i:end])
	}
	return batches
}

func buildUserMessage(batch []domain.TorrentFile, category domain.Category, animeTitle string, reserved []string, tvdb []TVDBSeasonInfo) string {
	names := make([]string, 0, len(batch))
	for _, f := range batch {
		names = append(names, f.Name)
	}
	sort.Strings(names)

	msg := fmt.Sprintf("anime_title=%q category=%q files=%v already_used_targets=%v", animeTitle, category, names, reserved)
	if len(tvdb) > 0 {
		msg += fmt.Sprintf(" tvdb_seasons=%v", tvdb)
	}
	return msg
}

// multiFileRenamePrompt is a versioned input per spec §9: changes are
// API-breaking for the upstream contract and must be covered by regression
// fixtures.
const multiFileRenamePrompt = `You are an anime release file organiser. Given a torrent's file list, ` +
	`produce a full rename map. For each file, classify it as a main episode ` +
	`file or a skipped extra (PV, menu, bonus, sample, NCOP/NCED). Assign each ` +
	`main file a target relative library path: "Season {N}/{title} - S{N:02d}E{E:02d} ` +
	`- {group} [...].{ext}" for TV (Season 0 for specials), or a flat path for ` +
	`movies. Never reuse a path listed in already_used_targets. When tvdb_seasons ` +
	`boundaries are given and a file's inferred episode number exceeds a season's ` +
	`episode count, decide whether to remap it to Season 0 or Season N+1 yourself ` +
	`— you own that decision. Also derive a regex bundle (subtitle_group, ` +
	`full_title, clean_title, episode, special_tag, quality, platform, source, ` +
	`codec, subtitle_type, format) using literal "none" for any field you cannot ` +
	`derive; special_tag and its neighbours must use tag-count conservation: if a ` +
	`main filename has N bracketed technical tags after the episode number, your ` +
	`lookahead must assert exactly N (or >= N to tolerate version tags like [v2]). ` +
	`Respond only with the requested JSON object.`
