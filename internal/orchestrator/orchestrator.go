// Package orchestrator implements the Download Orchestrator (C12): the
// top-level per-hash state machine wiring RSS items to downloader
// submission, and downloader webhook events to the title-parse/rename/
// hardlink completion pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
	"github.com/1morr/anidown/internal/hardlink"
	"github.com/1morr/anidown/internal/renameservice"
	"github.com/1morr/anidown/internal/titleparser"
)

// Orchestrator owns no state of its own: every call reads/writes through
// its repositories, so per-hash ordering comes entirely from the single
// Webhook Queue flow that invokes it.
type Orchestrator struct {
	Animes     ports.AnimeRepository
	Downloads  ports.DownloadRepository
	Downloader ports.Downloader
	Notifier   ports.Notifier
	Metadata   ports.MetadataProvider // optional; nil disables TVDB enrichment
	TitleParse *titleparser.Parser
	Rename     *renameservice.Service
	Hardlinks  *hardlink.Service
	Logger     *slog.Logger
}

func New(animes ports.AnimeRepository, downloads ports.DownloadRepository, downloader ports.Downloader, notifier ports.Notifier, titleParse *titleparser.Parser, rename *renameservice.Service, hardlinks *hardlink.Service, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Animes:     animes,
		Downloads:  downloads,
		Downloader: downloader,
		Notifier:   notifier,
		TitleParse: titleParse,
		Rename:     rename,
		Hardlinks:  hardlinks,
		Logger:     logger,
	}
}

// ProcessSingleItem implements rss.ItemProcessor: it is the Submit
// transition for an item discovered by the RSS Queue. A duplicate hash is
// reported via apperr.KindDuplicate so the RSS item-level handler records
// outcome "exists" rather than "failed".
func (o *Orchestrator) ProcessSingleItem(ctx context.Context, item domain.RSSPayload) error {
	return o.Submit(ctx, SubmitRequest{
		HashID:     item.HashID,
		Title:      item.ItemTitle,
		Source:     item.TorrentURL,
		MediaType:  item.MediaType,
		TriggeredBy: string(item.TriggerType),
	})
}

// SubmitRequest covers both the RSS path and a manual-upload path (e.g. a
// CLI "magnet"/"torrent" invocation). SubtitleGroup/Season/Category are
// manual-upload overrides: when SubtitleGroup is non-empty, resolution
// skips the Title Parser entirely and trusts the caller's values, since a
// human submitting a specific magnet/torrent already knows them precisely.
type SubmitRequest struct {
	HashID        string
	Title         string
	Source        string // magnet URI or .torrent file path/URL
	MediaType     string
	TriggeredBy   string
	SubtitleGroup string
	Season        int
	Category      string
}

// Submit is the "none -> pending" transition: validate the hash is not
// already live or previously deleted, resolve the anime via the Title
// Parser, submit to the downloader, and persist a pending DownloadRecord.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) error {
	if req.HashID == "" {
		return apperr.New(apperr.KindValidation, "cannot submit a torrent with no resolvable hash", apperr.Ctx{"title": req.Title})
	}

	exists, err := o.Downloads.ExistsLiveOrDeleted(ctx, req.HashID)
	if err != nil {
		return fmt.Errorf("orchestrator: check existing hash: %w", err)
	}
	if exists {
		return apperr.New(apperr.KindDuplicate, "hash already submitted or previously deleted", apperr.Ctx{"hash_id": req.HashID})
	}

	var anime domain.Anime
	if req.SubtitleGroup != "" {
		anime, err = o.resolveAnimeManual(ctx, req)
	} else {
		anime, err = o.resolveAnime(ctx, req.Title, req.MediaType)
	}
	if err != nil {
		return fmt.Errorf("orchestrator: resolve anime: %w", err)
	}

	category := string(anime.Category)
	if err := o.Downloader.AddTorrent(ctx, req.Source, category, ""); err != nil {
		return apperr.Wrap(apperr.KindUpstreamFault, "downloader rejected submission", err, apperr.Ctx{"hash_id": req.HashID})
	}

	animeID := anime.AnimeID
	if err := o.Downloads.Create(ctx, domain.DownloadRecord{
		HashID:           req.HashID,
		OriginalFilename: req.Title,
		AnimeID:          &animeID,
		Status:           domain.DownloadPending,
	}); err != nil {
		return fmt.Errorf("orchestrator: persist download record: %w", err)
	}

	o.notify(ctx, ports.ChannelDownload, "torrent submitted", map[string]string{
		"hash_id": req.HashID, "title": req.Title, "anime": anime.FullTitle,
	})
	return nil
}

// resolveAnime implements Title resolution: parse req.Title via the Title
// Parser, then map to an existing Anime by exact
// (clean_title, season, subtitle_group, category) match, creating one on a
// miss. A Title Parser failure falls back to a single-field heuristic
// (the raw title as clean_title, season 1, category tv) rather than
// blocking the submission.
func (o *Orchestrator) resolveAnime(ctx context.Context, title, mediaType string) (domain.Anime, error) {
	parsed, err := o.TitleParse.Parse(ctx, title)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("orchestrator: title parse failed, using heuristic fallback", slog.String("title", title), slog.Any("error", err))
		}
		parsed = &domain.TitleParseResult{
			OriginalTitle: title,
			CleanTitle:    title,
			FullTitle:     title,
			Season:        1,
			Category:      domain.CategoryTV,
		}
	}

	existing, found, err := o.Animes.FindByKey(ctx, parsed.CleanTitle, parsed.Season, parsed.SubtitleGroup, parsed.Category)
	if err != nil {
		return domain.Anime{}, fmt.Errorf("orchestrator: lookup anime: %w", err)
	}
	if found {
		return existing, nil
	}

	mt := domain.MediaAnime
	if mediaType == string(domain.MediaLiveAction) {
		mt = domain.MediaLiveAction
	}

	created := domain.Anime{
		AnimeID:       uuid.New().String(),
		ShortTitle:    parsed.CleanTitle,
		FullTitle:     parsed.FullTitle,
		SubtitleGroup: parsed.SubtitleGroup,
		Season:        parsed.Season,
		Category:      parsed.Category,
		MediaType:     mt,
	}
	created.TVDBID = o.lookupTVDBID(ctx, parsed.CleanTitle)
	if err := o.Animes.Create(ctx, created); err != nil {
		return domain.Anime{}, fmt.Errorf("orchestrator: create anime: %w", err)
	}
	return created, nil
}

// lookupTVDBID best-effort resolves a series name to a TVDB ID on first
// sight of an anime. A disabled or failing provider never blocks creation.
func (o *Orchestrator) lookupTVDBID(ctx context.Context, cleanTitle string) *int64 {
	if o.Metadata == nil {
		return nil
	}
	results, err := o.Metadata.SearchSeries(ctx, cleanTitle)
	if err != nil || len(results) == 0 {
		if err != nil && o.Logger != nil {
			o.Logger.Warn("orchestrator: tvdb search failed", slog.String("title", cleanTitle), slog.Any("error", err))
		}
		return nil
	}
	id := results[0].ID
	return &id
}

// resolveAnimeManual is the manual-upload counterpart of resolveAnime: the
// caller (CLI magnet/torrent subcommands) already knows clean_title,
// subtitle_group, season, and category precisely, so no AI call is made.
func (o *Orchestrator) resolveAnimeManual(ctx context.Context, req SubmitRequest) (domain.Anime, error) {
	season := req.Season
	if season <= 0 {
		season = 1
	}
	category := domain.CategoryTV
	if req.Category == string(domain.CategoryMovie) {
		category = domain.CategoryMovie
	}

	existing, found, err := o.Animes.FindByKey(ctx, req.Title, season, req.SubtitleGroup, category)
	if err != nil {
		return domain.Anime{}, fmt.Errorf("orchestrator: lookup anime: %w", err)
	}
	if found {
		return existing, nil
	}

	mt := domain.MediaAnime
	if req.MediaType == string(domain.MediaLiveAction) {
		mt = domain.MediaLiveAction
	}
	created := domain.Anime{
		AnimeID:       uuid.New().String(),
		ShortTitle:    req.Title,
		FullTitle:     req.Title,
		SubtitleGroup: req.SubtitleGroup,
		Season:        season,
		Category:      category,
		MediaType:     mt,
	}
	created.TVDBID = o.lookupTVDBID(ctx, req.Title)
	if err := o.Animes.Create(ctx, created); err != nil {
		return domain.Anime{}, fmt.Errorf("orchestrator: create anime: %w", err)
	}
	return created, nil
}

func (o *Orchestrator) notify(ctx context.Context, channel ports.NotificationChannel, title string, fields map[string]string) {
	if o.Notifier == nil {
		return
	}
	if _, err := o.Notifier.Send(ctx, channel, []ports.NotificationEmbed{{Title: title, Fields: fields}}, ""); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("orchestrator: notification failed", slog.String("channel", string(channel)), slog.Any("error", err))
		}
	}
}
