package rss

import (
	"context"
	"log/slog"
	"time"

	"github.com/1morr/anidown/internal/domain"
)

// MinCheckInterval is the floor enforced on the configured check interval —
// a feed checked more often than this risks tripping upstream rate limits.
const MinCheckInterval = 60 * time.Second

// Scheduler emits one single_feed event per configured feed on a fixed
// period, plus an immediate bootstrap tick at startup so a freshly started
// process doesn't wait a full period before its first check.
type Scheduler struct {
	Dispatcher *Dispatcher
	Feeds      []FeedConfig
	Interval   time.Duration
	MediaType  string
	Logger     *slog.Logger

	stop chan struct{}
}

func NewScheduler(dispatcher *Dispatcher, feeds []FeedConfig, interval time.Duration, mediaType string, logger *slog.Logger) *Scheduler {
	if interval < MinCheckInterval {
		interval = MinCheckInterval
	}
	return &Scheduler{
		Dispatcher: dispatcher,
		Feeds:      feeds,
		Interval:   interval,
		MediaType:  mediaType,
		Logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Run blocks, ticking until ctx is cancelled. Intended to be launched in its
// own goroutine by the composition root.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the scheduler's loop without affecting already-enqueued events.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, feed := range s.Feeds {
		event := s.Dispatcher.EnqueueFeed(EventSingleFeed, feed, domain.TriggerFixedSubscription, s.MediaType)
		if s.Logger != nil {
			s.Logger.Info("rss: scheduled feed check", slog.String("url", feed.URL), slog.String("queue_id", event.QueueID))
		}
	}
}
