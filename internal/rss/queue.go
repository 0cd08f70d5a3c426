// Package rss implements the RSS Queue (C6) — a two-stratum queue worker
// that expands feed-level events into per-item events — and the RSS
// Scheduler (C7), a fixed-period timer that emits feed-level events.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
	"github.com/1morr/anidown/internal/metrics"
	"github.com/1morr/anidown/internal/queue"
)

const (
	EventScheduledCheck      = "scheduled_check"
	EventManualCheck         = "manual_check"
	EventSingleFeed          = "single_feed"
	EventFixedSubscription   = "fixed_subscription"
	EventSingleItem          = "single_item"
)

// ItemProcessor is implemented by the Download Orchestrator: submit one
// surviving RSS item for download. A duplicate hash must be reported via
// apperr.KindDuplicate so the item-level handler can record "exists"
// rather than "failed".
type ItemProcessor interface {
	ProcessSingleItem(ctx context.Context, item domain.RSSPayload) error
}

// FeedConfig is one configured subscription.
type FeedConfig struct {
	URL    string
	Filter domain.FilterConfig
}

// historyProgress tracks in-flight per-history counters so the feed-level
// handler can decide when to flip a RSSHistory row to completed without a
// round trip through the repository for every single item.
type historyProgress struct {
	attempted int
	processed int
}

// Dispatcher owns the RSS Queue and wires its two event strata to concrete
// collaborators.
type Dispatcher struct {
	Queue     *queue.Queue[domain.RSSPayload]
	Fetcher   *Fetcher
	History   ports.RSSHistoryRepository
	Downloads ports.DownloadRepository
	Processor ItemProcessor
	Logger    *slog.Logger

	mu        sync.Mutex
	progress  map[string]*historyProgress
}

func NewDispatcher(fetcher *Fetcher, history ports.RSSHistoryRepository, downloads ports.DownloadRepository, processor ItemProcessor, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		Fetcher:   fetcher,
		History:   history,
		Downloads: downloads,
		Processor: processor,
		Logger:    logger,
		progress:  map[string]*historyProgress{},
	}
	handlers := map[string]queue.Handler[domain.RSSPayload]{
		EventScheduledCheck:    d.handleFeedLevel,
		EventManualCheck:       d.handleFeedLevel,
		EventSingleFeed:        d.handleFeedLevel,
		EventFixedSubscription: d.handleFeedLevel,
		EventSingleItem:        d.handleSingleItem,
	}
	d.Queue = queue.New("rss", handlers, logger)
	return d
}

// EnqueueFeed submits one feed-level event, e.g. from the scheduler or a
// manual-check API call.
func (d *Dispatcher) EnqueueFeed(kind string, feed FeedConfig, triggerType domain.TriggerType, mediaType string) domain.QueueEvent[domain.RSSPayload] {
	return d.Queue.Enqueue(kind, domain.RSSPayload{
		RSSURL:      feed.URL,
		TriggerType: triggerType,
		Filter:      feed.Filter,
		MediaType:   mediaType,
	}, nil)
}

func (d *Dispatcher) handleFeedLevel(ctx context.Context, event domain.QueueEvent[domain.RSSPayload]) error {
	payload := event.Payload
	items, err := d.Fetcher.Fetch(ctx, payload.RSSURL)
	if err != nil {
		return fmt.Errorf("rss: fetch feed %s: %w", payload.RSSURL, err)
	}

	historyID, err := d.History.CreateHistory(ctx, domain.RSSHistory{
		RSSURL:      payload.RSSURL,
		TriggeredBy: payload.TriggerType,
		Status:      domain.RSSHistoryProcessing,
		ItemsFound:  len(items),
	})
	if err != nil {
		return fmt.Errorf("rss: create history: %w", err)
	}

	attempted := 0
	for _, item := range items {
		if Blocked(payload.Filter, item.Title) {
			_ = d.History.AddDetail(ctx, domain.RSSHistoryDetail{HistoryID: historyID, ItemTitle: item.Title, Outcome: domain.OutcomeFiltered})
			metrics.RSSItemsTotal.WithLabelValues(string(domain.OutcomeFiltered)).Inc()
			continue
		}

		hashID := HashFromLink(item.Link)
		if hashID != "" && d.Downloads != nil {
			if exists, _ := d.Downloads.ExistsLiveOrDeleted(ctx, hashID); exists {
				_ = d.History.AddDetail(ctx, domain.RSSHistoryDetail{HistoryID: historyID, ItemTitle: item.Title, Outcome: domain.OutcomeExists})
				_ = d.History.IncrementProcessed(ctx, historyID)
				metrics.RSSItemsTotal.WithLabelValues(string(domain.OutcomeExists)).Inc()
				continue
			}
		}

		attempted++
		d.Queue.Enqueue(EventSingleItem, domain.RSSPayload{
			ItemTitle:   item.Title,
			TorrentURL:  item.Link,
			HashID:      hashID,
			RSSURL:      payload.RSSURL,
			MediaType:   payload.MediaType,
			TriggerType: payload.TriggerType,
			HistoryID:   historyID,
			Filter:      payload.Filter,
			Description: item.Description,
			PubDate:     item.PubDate,
		}, nil)
	}

	if attempted == 0 {
		return d.History.UpdateHistoryStatus(ctx, historyID, domain.RSSHistoryCompleted, 0)
	}

	d.mu.Lock()
	d.progress[historyID] = &historyProgress{attempted: attempted}
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) handleSingleItem(ctx context.Context, event domain.QueueEvent[domain.RSSPayload]) error {
	payload := event.Payload
	outcome := domain.OutcomeSuccess
	reason := ""

	if payload.HashID != "" && d.Downloads != nil {
		if exists, _ := d.Downloads.ExistsLiveOrDeleted(ctx, payload.HashID); exists {
			outcome = domain.OutcomeExists
		}
	}

	if outcome != domain.OutcomeExists {
		if err := d.Processor.ProcessSingleItem(ctx, payload); err != nil {
			if kind, ok := apperr.KindOf(err); ok && kind == apperr.KindDuplicate {
				outcome = domain.OutcomeExists
			} else {
				outcome = domain.OutcomeFailed
				reason = err.Error()
			}
		}
	}

	_ = d.History.AddDetail(ctx, domain.RSSHistoryDetail{
		HistoryID: payload.HistoryID,
		ItemTitle: payload.ItemTitle,
		Outcome:   outcome,
		Reason:    reason,
	})
	_ = d.History.IncrementProcessed(ctx, payload.HistoryID)
	metrics.RSSItemsTotal.WithLabelValues(string(outcome)).Inc()
	d.noteProcessed(ctx, payload.HistoryID)

	if outcome == domain.OutcomeFailed {
		return fmt.Errorf("rss: item %q: %s", payload.ItemTitle, reason)
	}
	return nil
}

func (d *Dispatcher) noteProcessed(ctx context.Context, historyID string) {
	d.mu.Lock()
	p, ok := d.progress[historyID]
	if ok {
		p.processed++
		done := p.processed >= p.attempted
		if done {
			delete(d.progress, historyID)
		}
		d.mu.Unlock()
		if done {
			_ = d.History.UpdateHistoryStatus(ctx, historyID, domain.RSSHistoryCompleted, p.processed)
		}
		return
	}
	d.mu.Unlock()
}

// ClearQueue drains pending events and marks every affected RSSHistory row
// interrupted, with each dropped item-level event recorded as
// failed/interrupted — the "clear cancels only pending" invariant.
func (d *Dispatcher) ClearQueue(ctx context.Context) (queue.ClearResult[domain.RSSPayload], error) {
	result := d.Queue.Clear()

	affected := map[string]bool{}
	for _, event := range result.Cleared {
		if event.EventKind != EventSingleItem || event.Payload.HistoryID == "" {
			continue
		}
		affected[event.Payload.HistoryID] = true
		metrics.RSSItemsTotal.WithLabelValues(string(domain.OutcomeFailed)).Inc()
		_ = d.History.AddDetail(ctx, domain.RSSHistoryDetail{
			HistoryID: event.Payload.HistoryID,
			ItemTitle: event.Payload.ItemTitle,
			Outcome:   domain.OutcomeFailed,
			Reason:    "interrupted",
		})
	}

	d.mu.Lock()
	for historyID := range affected {
		p := d.progress[historyID]
		processed := 0
		if p != nil {
			processed = p.processed
		}
		delete(d.progress, historyID)
		d.mu.Unlock()
		_ = d.History.UpdateHistoryStatus(ctx, historyID, domain.RSSHistoryInterrupted, processed)
		d.mu.Lock()
	}
	d.mu.Unlock()

	return result, nil
}
