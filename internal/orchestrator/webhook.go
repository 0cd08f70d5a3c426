package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
	"github.com/1morr/anidown/internal/hardlink"
	"github.com/1morr/anidown/internal/metrics"
	"github.com/1morr/anidown/internal/queue"
)

// Webhook Queue (C5) event kinds, installed by the orchestrator.
const (
	EventTorrentCompleted = "torrent_completed"
	EventTorrentFinished  = "torrent_finished"
	EventTorrentAdded     = "torrent_added"
	EventTorrentError     = "torrent_error"
	EventTorrentPaused    = "torrent_paused"
	EventTorrentResumed   = "torrent_resumed"
	EventTorrentDeleted   = "torrent_deleted"
)

// NewWebhookQueue builds the C5 queue with its dispatch table installed.
func NewWebhookQueue(o *Orchestrator, logger *slog.Logger) *queue.Queue[domain.WebhookPayload] {
	handlers := map[string]queue.Handler[domain.WebhookPayload]{
		EventTorrentCompleted: o.handleCompleted,
		EventTorrentFinished:  o.handleCompleted,
		EventTorrentAdded:     o.handleAdded,
		EventTorrentError:     o.handleError,
		EventTorrentPaused:    o.handleLifecycleHint,
		EventTorrentResumed:   o.handleLifecycleHint,
		EventTorrentDeleted:   o.handleLifecycleHint,
	}
	return queue.New("webhook", handlers, logger)
}

func (o *Orchestrator) handleAdded(ctx context.Context, event domain.QueueEvent[domain.WebhookPayload]) error {
	hashID := event.Payload.HashID
	if err := o.Downloads.UpdateStatus(ctx, hashID, domain.DownloadDownloading); err != nil {
		return fmt.Errorf("orchestrator: torrent_added: %w", err)
	}
	return nil
}

func (o *Orchestrator) handleError(ctx context.Context, event domain.QueueEvent[domain.WebhookPayload]) error {
	hashID := event.Payload.HashID
	if err := o.Downloads.UpdateStatus(ctx, hashID, domain.DownloadError); err != nil {
		return fmt.Errorf("orchestrator: torrent_error: %w", err)
	}
	o.notify(ctx, ports.ChannelDownload, "torrent error", map[string]string{
		"hash_id": hashID, "name": event.Payload.Name, "status": event.Payload.Status,
	})
	return nil
}

func (o *Orchestrator) handleLifecycleHint(ctx context.Context, event domain.QueueEvent[domain.WebhookPayload]) error {
	if o.Logger != nil {
		o.Logger.Info("orchestrator: lifecycle hint", slog.String("kind", event.EventKind), slog.String("hash_id", event.Payload.HashID))
	}
	return nil
}

// handleCompleted runs the full completion pipeline synchronously on the
// Webhook Queue's single consumer flow: downloading -> completed ->
// materialising -> archived (or -> error on any step's failure).
func (o *Orchestrator) handleCompleted(ctx context.Context, event domain.QueueEvent[domain.WebhookPayload]) error {
	hashID := event.Payload.HashID

	record, found, err := o.Downloads.Get(ctx, hashID)
	if err != nil {
		return fmt.Errorf("orchestrator: load download record: %w", err)
	}
	if !found {
		return fmt.Errorf("orchestrator: torrent_completed for unknown hash %s", hashID)
	}
	if err := o.Downloads.UpdateStatus(ctx, hashID, domain.DownloadCompleted); err != nil {
		return fmt.Errorf("orchestrator: mark completed: %w", err)
	}

	if err := o.runCompletionPipeline(ctx, hashID, record, event.Payload); err != nil {
		_ = o.Downloads.UpdateStatus(ctx, hashID, domain.DownloadError)
		o.notify(ctx, ports.ChannelHardlink, "materialisation failed", map[string]string{
			"hash_id": hashID, "error": err.Error(),
		})
		return err
	}
	return nil
}

func (o *Orchestrator) runCompletionPipeline(ctx context.Context, hashID string, record domain.DownloadRecord, payload domain.WebhookPayload) error {
	if record.AnimeID == nil {
		return fmt.Errorf("orchestrator: download record %s has no associated anime", hashID)
	}
	anime, found, err := o.Animes.GetByID(ctx, *record.AnimeID)
	if err != nil {
		return fmt.Errorf("orchestrator: load anime: %w", err)
	}
	if !found {
		return fmt.Errorf("orchestrator: anime %s not found", *record.AnimeID)
	}

	files, err := o.Downloader.GetTorrentFiles(ctx, hashID)
	if err != nil {
		return fmt.Errorf("orchestrator: list torrent files: %w", err)
	}

	savePath := record.DownloadDirectory
	if savePath == "" {
		if info, infoErr := o.Downloader.GetTorrentInfo(ctx, hashID); infoErr == nil {
			savePath = info.SavePath
		}
	}

	patterns, patternsFound, err := o.Animes.GetPatterns(ctx, anime.AnimeID)
	if err != nil {
		return fmt.Errorf("orchestrator: load anime patterns: %w", err)
	}
	var patternsPtr *domain.AnimePatterns
	if patternsFound {
		patternsPtr = &patterns
	}

	previousRows, err := o.Hardlinks.Repo.ListByTorrent(ctx, hashID)
	if err != nil {
		return fmt.Errorf("orchestrator: list previous hardlinks: %w", err)
	}
	previousHardlinks := make([]string, 0, len(previousRows))
	for _, row := range previousRows {
		previousHardlinks = append(previousHardlinks, row.HardlinkPath)
	}

	plan, err := o.Rename.Decide(ctx, anime, patternsPtr, files, previousHardlinks)
	if err != nil {
		return fmt.Errorf("orchestrator: rename decision: %w", err)
	}
	if plan.NewPatterns != nil {
		if err := o.Animes.SavePatterns(ctx, *plan.NewPatterns); err != nil {
			if o.Logger != nil {
				o.Logger.Warn("orchestrator: failed to persist new anime patterns", slog.String("anime_id", anime.AnimeID), slog.Any("error", err))
			}
		}
	}

	if err := o.Downloads.UpdateStatus(ctx, hashID, domain.DownloadMaterialising); err != nil {
		return fmt.Errorf("orchestrator: mark materialising: %w", err)
	}

	outcomes, err := o.Hardlinks.Materialize(ctx, hashID, anime.AnimeID, anime.MediaType, anime.Category, savePath, plan)
	if err != nil {
		return fmt.Errorf("orchestrator: materialize: %w", err)
	}
	if !hardlink.Archived(outcomes) {
		return fmt.Errorf("orchestrator: %d file(s) failed to hardlink for %s", countFailed(outcomes), hashID)
	}

	now := time.Now()
	if err := o.Downloads.MarkCompleted(ctx, hashID, now); err != nil {
		return fmt.Errorf("orchestrator: mark archived: %w", err)
	}
	if err := o.Downloads.UpdateStatus(ctx, hashID, domain.DownloadArchived); err != nil {
		return fmt.Errorf("orchestrator: mark archived: %w", err)
	}
	metrics.DownloadsArchivedTotal.Inc()

	videos, subs := countByClass(plan)
	o.notify(ctx, ports.ChannelHardlink, "hardlink complete", map[string]string{
		"hash_id": hashID, "anime": anime.FullTitle, "method": string(plan.Method),
		"videos": fmt.Sprint(videos), "subtitles": fmt.Sprint(subs),
	})
	return nil
}

func countFailed(outcomes []hardlink.FileOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func countByClass(plan domain.RenamePlan) (videos, subtitles int) {
	for _, e := range plan.Entries {
		if e.Skipped {
			continue
		}
		switch e.Class {
		case domain.FileVideo:
			videos++
		case domain.FileSubtitle:
			subtitles++
		}
	}
	return
}
