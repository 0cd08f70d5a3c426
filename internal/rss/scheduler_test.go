package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSchedulerEnforcesMinimumInterval(t *testing.T) {
	s := NewScheduler(&Dispatcher{}, nil, time.Second, "anime", nil)
	if s.Interval != MinCheckInterval {
		t.Fatalf("expected interval clamped to %s, got %s", MinCheckInterval, s.Interval)
	}
}

func TestSchedulerBootstrapTickFiresImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<rss version="2.0"><channel></channel></rss>`))
	}))
	defer server.Close()

	history := newFakeHistoryRepo()
	downloads := &fakeDownloadRepo{hashes: map[string]bool{}}
	processor := &recordingProcessor{}
	d := NewDispatcher(NewFetcher(server.Client()), history, downloads, processor, nil)
	d.Queue.Start(context.Background())
	defer d.Queue.Stop()

	sched := NewScheduler(d, []FeedConfig{{URL: server.URL}}, time.Hour, "anime", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go sched.Run(ctx)
	<-ctx.Done()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		history.mu.Lock()
		n := len(history.history)
		history.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected one history row from the bootstrap tick")
}
