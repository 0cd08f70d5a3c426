package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/breaker"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
	"github.com/1morr/anidown/internal/filerenamer"
	"github.com/1morr/anidown/internal/hardlink"
	"github.com/1morr/anidown/internal/keypool"
	"github.com/1morr/anidown/internal/pathconv"
	"github.com/1morr/anidown/internal/renameservice"
	"github.com/1morr/anidown/internal/titleparser"
)

type fakeAnimeRepo struct {
	mu       sync.Mutex
	byKey    map[string]domain.Anime
	byID     map[string]domain.Anime
	patterns map[string]domain.AnimePatterns
}

func newFakeAnimeRepo() *fakeAnimeRepo {
	return &fakeAnimeRepo{byKey: map[string]domain.Anime{}, byID: map[string]domain.Anime{}, patterns: map[string]domain.AnimePatterns{}}
}

func animeKey(cleanTitle string, season int, subtitleGroup string, category domain.Category) string {
	return cleanTitle + "|" + subtitleGroup + "|" + string(category)
}

func (f *fakeAnimeRepo) FindByKey(ctx context.Context, cleanTitle string, season int, subtitleGroup string, category domain.Category) (domain.Anime, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byKey[animeKey(cleanTitle, season, subtitleGroup, category)]
	return a, ok, nil
}

func (f *fakeAnimeRepo) GetByID(ctx context.Context, animeID string) (domain.Anime, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[animeID]
	return a, ok, nil
}

func (f *fakeAnimeRepo) Create(ctx context.Context, a domain.Anime) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byKey[animeKey(a.ShortTitle, a.Season, a.SubtitleGroup, a.Category)] = a
	f.byID[a.AnimeID] = a
	return nil
}

func (f *fakeAnimeRepo) GetPatterns(ctx context.Context, animeID string) (domain.AnimePatterns, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patterns[animeID]
	return p, ok, nil
}

func (f *fakeAnimeRepo) SavePatterns(ctx context.Context, p domain.AnimePatterns) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns[p.AnimeID] = p
	return nil
}

type fakeDownloadRepo struct {
	mu      sync.Mutex
	records map[string]domain.DownloadRecord
}

func newFakeDownloadRepo() *fakeDownloadRepo {
	return &fakeDownloadRepo{records: map[string]domain.DownloadRecord{}}
}

func (f *fakeDownloadRepo) ExistsLiveOrDeleted(ctx context.Context, hashID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[hashID]
	return ok, nil
}

func (f *fakeDownloadRepo) Create(ctx context.Context, r domain.DownloadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.HashID] = r
	return nil
}

func (f *fakeDownloadRepo) Get(ctx context.Context, hashID string) (domain.DownloadRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[hashID]
	return r, ok, nil
}

func (f *fakeDownloadRepo) UpdateStatus(ctx context.Context, hashID string, status domain.DownloadStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.records[hashID]
	r.Status = status
	f.records[hashID] = r
	return nil
}

func (f *fakeDownloadRepo) MarkCompleted(ctx context.Context, hashID string, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.records[hashID]
	r.CompletedAt = &completedAt
	f.records[hashID] = r
	return nil
}

func (f *fakeDownloadRepo) statusOf(hashID string) domain.DownloadStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[hashID].Status
}

type fakeDownloader struct {
	mu    sync.Mutex
	added []string
	files []domain.TorrentFile
	save  string
}

func (d *fakeDownloader) Login(ctx context.Context) error { return nil }
func (d *fakeDownloader) AddTorrent(ctx context.Context, source, category, savePath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.added = append(d.added, source)
	return nil
}
func (d *fakeDownloader) GetTorrentInfo(ctx context.Context, hashID string) (ports.TorrentInfo, error) {
	return ports.TorrentInfo{HashID: hashID, SavePath: d.save}, nil
}
func (d *fakeDownloader) GetTorrentFiles(ctx context.Context, hashID string) ([]domain.TorrentFile, error) {
	return d.files, nil
}
func (d *fakeDownloader) GetAllTorrents(ctx context.Context) ([]ports.TorrentInfo, error) { return nil, nil }
func (d *fakeDownloader) DeleteTorrent(ctx context.Context, hashID string, deleteFiles bool) error {
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Send(ctx context.Context, channel ports.NotificationChannel, embeds []ports.NotificationEmbed, content string) (ports.NotifyResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, string(channel))
	return ports.NotifyResult{Success: true}, nil
}

type fakeHardlinkRepo struct {
	mu   sync.Mutex
	rows []domain.Hardlink
}

func (f *fakeHardlinkRepo) Exists(ctx context.Context, torrentHash, sourcePath, targetPath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.TorrentHash == torrentHash && r.OriginalFilePath == sourcePath && r.HardlinkPath == targetPath {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeHardlinkRepo) Insert(ctx context.Context, h domain.Hardlink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, h)
	return nil
}
func (f *fakeHardlinkRepo) ListByTorrent(ctx context.Context, torrentHash string) ([]domain.Hardlink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Hardlink
	for _, r := range f.rows {
		if r.TorrentHash == torrentHash {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeHardlinkRepo) DeleteByTorrent(ctx context.Context, torrentHash string) error { return nil }

func newTitleParser(t *testing.T, clean, full, group string, season int, category domain.Category) *titleparser.Parser {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, _ := json.Marshal(map[string]any{
			"clean_title": clean, "full_title": full, "subtitle_group": group, "season": season, "category": category,
		})
		resp := map[string]any{"choices": []map[string]any{{"message": map[string]any{"content": string(content)}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	pool := keypool.New("title_parse", []domain.KeySpec{{KeyID: "k1", Enabled: true, UpstreamBaseURL: srv.URL, ModelName: "m"}}, nil)
	br := breaker.New("title_parse")
	cl := aiclient.New("title_parse", pool, br, srv.Client(), 2, nil)
	return titleparser.New(cl, []string{"zh", "en"})
}

func TestSubmitCreatesAnimeAndPendingRecord(t *testing.T) {
	animes := newFakeAnimeRepo()
	downloads := newFakeDownloadRepo()
	downloader := &fakeDownloader{}
	parser := newTitleParser(t, "葬送的芙莉莲", "葬送のフリーレン", "ANi", 1, domain.CategoryTV)

	o := New(animes, downloads, downloader, &fakeNotifier{}, parser, nil, nil, nil)

	err := o.Submit(context.Background(), SubmitRequest{
		HashID: "1111111111111111111111111111111111111a",
		Title:  "[ANi] Frieren - 02",
		Source: "magnet:?xt=urn:btih:1111111111111111111111111111111111111a",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	rec, found, _ := downloads.Get(context.Background(), "1111111111111111111111111111111111111a")
	if !found || rec.Status != domain.DownloadPending {
		t.Fatalf("expected pending record, got %+v found=%v", rec, found)
	}
	if rec.AnimeID == nil {
		t.Fatal("expected anime to be attached")
	}
	anime, found, _ := animes.GetByID(context.Background(), *rec.AnimeID)
	if !found || anime.ShortTitle != "葬送的芙莉莲" {
		t.Fatalf("expected created anime, got %+v", anime)
	}
	if len(downloader.added) != 1 {
		t.Fatalf("expected downloader.AddTorrent called once, got %d", len(downloader.added))
	}
}

func TestSubmitRejectsDuplicateHash(t *testing.T) {
	animes := newFakeAnimeRepo()
	downloads := newFakeDownloadRepo()
	_ = downloads.Create(context.Background(), domain.DownloadRecord{HashID: "dupe"})
	downloader := &fakeDownloader{}
	parser := newTitleParser(t, "x", "x", "x", 1, domain.CategoryTV)

	o := New(animes, downloads, downloader, &fakeNotifier{}, parser, nil, nil, nil)
	err := o.Submit(context.Background(), SubmitRequest{HashID: "dupe", Title: "x", Source: "magnet:x"})
	if err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestHandleCompletedArchivesViaRegexPath(t *testing.T) {
	animes := newFakeAnimeRepo()
	downloads := newFakeDownloadRepo()

	srcDir := t.TempDir()
	libDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "Frieren - 01 [ANi][1080p].mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	anime := domain.Anime{
		AnimeID: "anime1", ShortTitle: "Frieren", FullTitle: "Frieren",
		SubtitleGroup: "ANi", Season: 1, Category: domain.CategoryTV, MediaType: domain.MediaAnime,
	}
	_ = animes.Create(context.Background(), anime)
	_ = animes.SavePatterns(context.Background(), domain.AnimePatterns{
		AnimeID:      "anime1",
		EpisodeRegex: `- (\d+) `,
	})

	animeID := "anime1"
	_ = downloads.Create(context.Background(), domain.DownloadRecord{
		HashID: "hash1", AnimeID: &animeID, Status: domain.DownloadDownloading, DownloadDirectory: srcDir,
	})

	downloader := &fakeDownloader{
		files: []domain.TorrentFile{{Name: "Frieren - 01 [ANi][1080p].mkv", Size: 1}},
		save:  srcDir,
	}

	hardlinkRepo := &fakeHardlinkRepo{}
	hlSvc := hardlink.New(hardlinkRepo, hardlink.Roots{AnimeTV: libDir}, pathconv.Converter{}, nil)
	renameSvc := renameservice.New(filerenamer.New(nil, 0, 0))

	o := New(animes, downloads, downloader, &fakeNotifier{}, nil, renameSvc, hlSvc, nil)

	event := domain.QueueEvent[domain.WebhookPayload]{
		EventKind: EventTorrentCompleted,
		Payload:   domain.WebhookPayload{HashID: "hash1"},
	}
	if err := o.handleCompleted(context.Background(), event); err != nil {
		t.Fatalf("handleCompleted() error = %v", err)
	}

	if got := downloads.statusOf("hash1"); got != domain.DownloadArchived {
		t.Fatalf("expected archived status, got %s", got)
	}
	if len(hardlinkRepo.rows) != 1 {
		t.Fatalf("expected one hardlink row, got %d", len(hardlinkRepo.rows))
	}
}
