// Package queue implements a generic single-consumer FIFO worker,
// parameterised by a payload type and a dispatch table of event-kind
// handlers. It backs both the Webhook Queue and the RSS Queue.
package queue

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/metrics"
)

// Handler processes one event's payload. A returned error counts as a
// handler failure for statistics purposes but never stops the worker.
type Handler[P any] func(ctx context.Context, event domain.QueueEvent[P]) error

// Stats mirrors the introspection surface a queue exposes.
type Stats struct {
	TotalProcessed     int
	TotalSuccess       int
	TotalFailed        int
	ConsecutiveFailures int
	Pending            int
	Running            bool
	Paused             bool
}

func (s Stats) SuccessRate() float64 {
	if s.TotalProcessed == 0 {
		return 0
	}
	return float64(s.TotalSuccess) / float64(s.TotalProcessed)
}

// ClearResult is returned by Clear(): the events that were drained.
type ClearResult[P any] struct {
	Count   int
	Cleared []domain.QueueEvent[P]
}

// Queue is a single-consumer FIFO over QueueEvent[P], dispatched by
// EventKind. Exactly one worker flow of control drains it; ordering is
// total; handlers never run concurrently with each other on this queue.
type Queue[P any] struct {
	name    string
	logger  *slog.Logger
	handlers map[string]Handler[P]

	mu      sync.Mutex
	cond    *sync.Cond
	fifo    *list.List // of domain.QueueEvent[P]
	running bool
	paused  bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	stats Stats
}

// New builds a Queue with the given dispatch table. handlers maps
// event_kind -> Handler; unknown kinds at dispatch time log a warning and
// do not advance statistics.
func New[P any](name string, handlers map[string]Handler[P], logger *slog.Logger) *Queue[P] {
	q := &Queue[P]{
		name:     name,
		logger:   logger,
		handlers: handlers,
		fifo:     list.New(),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an event, assigning it a fresh 8-hex-char opaque QueueID.
func (q *Queue[P]) Enqueue(eventKind string, payload P, metadata map[string]any) domain.QueueEvent[P] {
	event := domain.QueueEvent[P]{
		QueueID:   uuid.New().String()[:8],
		EventKind: eventKind,
		Payload:   payload,
		Metadata:  metadata,
	}
	q.mu.Lock()
	q.fifo.PushBack(event)
	q.stats.Pending = q.fifo.Len()
	pending := q.stats.Pending
	q.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(pending))
	q.cond.Signal()
	return event
}

// Start launches the worker flow if not already running; idempotent.
func (q *Queue[P]) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stats.Running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-q.stopCh:
		}
	}()
}

// Stop requests termination; the in-flight handler runs to completion and
// pending events are preserved for a future Start.
func (q *Queue[P]) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	stopCh := q.stopCh
	doneCh := q.doneCh
	q.mu.Unlock()

	close(stopCh)
	q.cond.Broadcast()
	<-doneCh
}

// Pause suspends event consumption; producers may still Enqueue.
func (q *Queue[P]) Pause() {
	q.mu.Lock()
	q.paused = true
	q.stats.Paused = true
	q.mu.Unlock()
}

// Resume clears the pause.
func (q *Queue[P]) Resume() {
	q.mu.Lock()
	q.paused = false
	q.stats.Paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Clear drains all pending events without processing them and returns what
// was cleared, for cancelling in-flight batches.
func (q *Queue[P]) Clear() ClearResult[P] {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := ClearResult[P]{Count: q.fifo.Len()}
	for e := q.fifo.Front(); e != nil; e = e.Next() {
		result.Cleared = append(result.Cleared, e.Value.(domain.QueueEvent[P]))
	}
	q.fifo.Init()
	q.stats.Pending = 0
	metrics.QueueDepth.WithLabelValues(q.name).Set(0)
	return result
}

func (q *Queue[P]) Statistics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.fifo.Len()
	return s
}

// run is the single worker flow of control. It blocks on the queue's
// condition variable between events and is woken by Enqueue, Resume, Stop or
// context cancellation, so it observes stop/pause without preemption.
func (q *Queue[P]) run(ctx context.Context) {
	defer func() {
		q.mu.Lock()
		q.running = false
		q.stats.Running = false
		doneCh := q.doneCh
		q.mu.Unlock()
		close(doneCh)
	}()

	for {
		event, ok := q.dequeue(ctx)
		if !ok {
			return
		}
		q.dispatch(ctx, event)
	}
}

// dequeue blocks until an event is available, the queue is stopped, or ctx
// is cancelled. Returns ok=false to signal the worker should exit.
func (q *Queue[P]) dequeue(ctx context.Context) (domain.QueueEvent[P], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		select {
		case <-q.stopCh:
			return domain.QueueEvent[P]{}, false
		default:
		}
		if ctx.Err() != nil {
			return domain.QueueEvent[P]{}, false
		}

		if !q.paused {
			if front := q.fifo.Front(); front != nil {
				q.fifo.Remove(front)
				q.stats.Pending = q.fifo.Len()
				metrics.QueueDepth.WithLabelValues(q.name).Set(float64(q.stats.Pending))
				return front.Value.(domain.QueueEvent[P]), true
			}
		}

		q.cond.Wait()
	}
}

func (q *Queue[P]) dispatch(ctx context.Context, event domain.QueueEvent[P]) {
	handler, ok := q.handlers[event.EventKind]
	if !ok {
		if q.logger != nil {
			q.logger.Warn("queue: unknown event kind", slog.String("queue", q.name), slog.String("kind", event.EventKind))
		}
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if q.logger != nil {
					q.logger.Error("queue: handler panicked", slog.String("queue", q.name), slog.Any("recover", r))
				}
				err = errHandlerPanic
			}
		}()
		return handler(ctx, event)
	}()

	q.mu.Lock()
	q.stats.TotalProcessed++
	if err != nil {
		q.stats.TotalFailed++
		q.stats.ConsecutiveFailures++
		metrics.QueueProcessedTotal.WithLabelValues(q.name, "failed").Inc()
		if q.logger != nil {
			q.logger.Warn("queue: handler failed", slog.String("queue", q.name), slog.String("kind", event.EventKind), slog.Any("error", err))
		}
	} else {
		metrics.QueueProcessedTotal.WithLabelValues(q.name, "success").Inc()
		q.stats.TotalSuccess++
		q.stats.ConsecutiveFailures = 0
	}
	q.mu.Unlock()
}

type queueError string

func (e queueError) Error() string { return string(e) }

const errHandlerPanic = queueError("handler panicked")
