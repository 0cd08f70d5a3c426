package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/1morr/anidown/internal/domain"
)

type fakeHistoryRepo struct {
	mu      sync.Mutex
	history map[string]*domain.RSSHistory
	details []domain.RSSHistoryDetail
	nextID  int
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{history: map[string]*domain.RSSHistory{}}
}

func (f *fakeHistoryRepo) CreateHistory(ctx context.Context, h domain.RSSHistory) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := string(rune('a' + f.nextID))
	h.ID = id
	f.history[id] = &h
	return id, nil
}

func (f *fakeHistoryRepo) UpdateHistoryStatus(ctx context.Context, id string, status domain.RSSHistoryStatus, itemsProcessed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[id]
	h.Status = status
	h.ItemsProcessed = itemsProcessed
	return nil
}

func (f *fakeHistoryRepo) IncrementProcessed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[id].ItemsProcessed++
	return nil
}

func (f *fakeHistoryRepo) AddDetail(ctx context.Context, d domain.RSSHistoryDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details = append(f.details, d)
	return nil
}

func (f *fakeHistoryRepo) statusOf(id string) domain.RSSHistoryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[id].Status
}

type fakeDownloadRepo struct {
	mu     sync.Mutex
	hashes map[string]bool
}

func (f *fakeDownloadRepo) ExistsLiveOrDeleted(ctx context.Context, hashID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[hashID], nil
}
func (f *fakeDownloadRepo) Create(ctx context.Context, r domain.DownloadRecord) error { return nil }
func (f *fakeDownloadRepo) Get(ctx context.Context, hashID string) (domain.DownloadRecord, bool, error) {
	return domain.DownloadRecord{}, false, nil
}
func (f *fakeDownloadRepo) UpdateStatus(ctx context.Context, hashID string, status domain.DownloadStatus) error {
	return nil
}
func (f *fakeDownloadRepo) MarkCompleted(ctx context.Context, hashID string, completedAt time.Time) error {
	return nil
}

type recordingProcessor struct {
	mu    sync.Mutex
	items []domain.RSSPayload
	wg    *sync.WaitGroup
}

func (p *recordingProcessor) ProcessSingleItem(ctx context.Context, item domain.RSSPayload) error {
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()
	if p.wg != nil {
		p.wg.Done()
	}
	return nil
}

const sampleFeedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>Frieren 01</title><link>magnet:?xt=urn:btih:111111111111111111111111111111111111111a&amp;dn=a</link></item>
<item><title>Frieren 02 [NSFW]</title><link>magnet:?xt=urn:btih:222222222222222222222222222222222222222b&amp;dn=b</link></item>
</channel></rss>`

func TestDispatcherFeedLevelFansOutAndCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeedXML))
	}))
	defer server.Close()

	history := newFakeHistoryRepo()
	downloads := &fakeDownloadRepo{hashes: map[string]bool{}}
	var wg sync.WaitGroup
	wg.Add(1) // only one item survives the NSFW keyword filter
	processor := &recordingProcessor{wg: &wg}

	d := NewDispatcher(NewFetcher(server.Client()), history, downloads, processor, nil)
	d.Queue.Start(context.Background())
	defer d.Queue.Stop()

	feed := FeedConfig{URL: server.URL, Filter: domain.FilterConfig{BlockedKeywords: "NSFW"}}
	event := d.EnqueueFeed(EventManualCheck, feed, domain.TriggerManualCheck, "anime")

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for item processing")
	}

	_ = event

	// Find the single history row created for this feed check.
	history.mu.Lock()
	var historyID string
	for id := range history.history {
		historyID = id
	}
	history.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if history.statusOf(historyID) == domain.RSSHistoryCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := history.statusOf(historyID); got != domain.RSSHistoryCompleted {
		t.Fatalf("expected history status completed, got %s", got)
	}

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.items) != 1 {
		t.Fatalf("expected exactly one surviving item, got %d: %+v", len(processor.items), processor.items)
	}
	if processor.items[0].ItemTitle != "Frieren 01" {
		t.Fatalf("unexpected item processed: %+v", processor.items[0])
	}
}

func TestDispatcherSkipsAlreadyDownloadedHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeedXML))
	}))
	defer server.Close()

	history := newFakeHistoryRepo()
	downloads := &fakeDownloadRepo{hashes: map[string]bool{
		"111111111111111111111111111111111111111a": true,
		"222222222222222222222222222222222222222b": true,
	}}
	processor := &recordingProcessor{}

	d := NewDispatcher(NewFetcher(server.Client()), history, downloads, processor, nil)
	d.Queue.Start(context.Background())
	defer d.Queue.Stop()

	feed := FeedConfig{URL: server.URL}
	d.EnqueueFeed(EventScheduledCheck, feed, domain.TriggerScheduledCheck, "anime")

	deadline := time.Now().Add(2 * time.Second)
	var historyID string
	for time.Now().Before(deadline) {
		history.mu.Lock()
		for id := range history.history {
			historyID = id
		}
		done := historyID != "" && history.history[historyID].Status == domain.RSSHistoryCompleted
		history.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if history.statusOf(historyID) != domain.RSSHistoryCompleted {
		t.Fatalf("expected completed status for fully-deduped feed, got %s", history.statusOf(historyID))
	}
	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.items) != 0 {
		t.Fatalf("expected no items dispatched to processor, got %d", len(processor.items))
	}
}
