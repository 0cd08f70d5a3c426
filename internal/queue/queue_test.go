package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1morr/anidown/internal/domain"
)

type testPayload struct {
	Value int
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestQueueProcessesInOrder(t *testing.T) {
	var processed []int
	done := make(chan struct{})

	handlers := map[string]Handler[testPayload]{
		"tick": func(ctx context.Context, e domain.QueueEvent[testPayload]) error {
			processed = append(processed, e.Payload.Value)
			if len(processed) == 3 {
				close(done)
			}
			return nil
		},
	}
	q := New("test", handlers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("tick", testPayload{1}, nil)
	q.Enqueue("tick", testPayload{2}, nil)
	q.Enqueue("tick", testPayload{3}, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for processing")
	}

	if len(processed) != 3 || processed[0] != 1 || processed[1] != 2 || processed[2] != 3 {
		t.Fatalf("expected strictly ordered [1 2 3], got %v", processed)
	}
}

func TestQueuePauseStopsConsumption(t *testing.T) {
	var count int32
	handlers := map[string]Handler[testPayload]{
		"tick": func(ctx context.Context, e domain.QueueEvent[testPayload]) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	}
	q := New("test", handlers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Pause()
	q.Enqueue("tick", testPayload{1}, nil)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatalf("expected no processing while paused")
	}

	q.Resume()
	waitFor(t, func() bool { return atomic.LoadInt32(&count) == 1 })
}

func TestQueueClearDrainsPending(t *testing.T) {
	handlers := map[string]Handler[testPayload]{
		"tick": func(ctx context.Context, e domain.QueueEvent[testPayload]) error { return nil },
	}
	q := New("test", handlers, nil)
	q.Pause()
	q.Enqueue("tick", testPayload{1}, nil)
	q.Enqueue("tick", testPayload{2}, nil)

	result := q.Clear()
	if result.Count != 2 || len(result.Cleared) != 2 {
		t.Fatalf("expected 2 cleared events, got %+v", result)
	}
	if q.Statistics().Pending != 0 {
		t.Fatalf("expected empty queue after clear")
	}
}

func TestQueueStatisticsTrackSuccessAndFailure(t *testing.T) {
	processedCh := make(chan struct{}, 2)
	handlers := map[string]Handler[testPayload]{
		"ok":  func(ctx context.Context, e domain.QueueEvent[testPayload]) error { processedCh <- struct{}{}; return nil },
		"bad": func(ctx context.Context, e domain.QueueEvent[testPayload]) error { processedCh <- struct{}{}; return errors.New("boom") },
	}
	q := New("test", handlers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("ok", testPayload{1}, nil)
	q.Enqueue("bad", testPayload{2}, nil)
	<-processedCh
	<-processedCh
	waitFor(t, func() bool { return q.Statistics().TotalProcessed == 2 })

	stats := q.Statistics()
	if stats.TotalSuccess != 1 || stats.TotalFailed != 1 {
		t.Fatalf("expected 1 success 1 failed, got %+v", stats)
	}
	if stats.SuccessRate() != 0.5 {
		t.Fatalf("expected success rate 0.5, got %f", stats.SuccessRate())
	}
}

func TestQueueUnknownKindLogsAndSkipsStatistics(t *testing.T) {
	handlers := map[string]Handler[testPayload]{}
	q := New("test", handlers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("unknown", testPayload{1}, nil)
	time.Sleep(50 * time.Millisecond)

	if q.Statistics().TotalProcessed != 0 {
		t.Fatalf("expected unknown-kind dispatch to not advance statistics")
	}
}
