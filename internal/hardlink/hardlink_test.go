package hardlink

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/pathconv"
)

type fakeRepo struct {
	mu    sync.Mutex
	rows  []domain.Hardlink
	exist map[string]bool
}

func newFakeRepo() *fakeRepo { return &fakeRepo{exist: map[string]bool{}} }

func key(hash, src, dst string) string { return hash + "|" + src + "|" + dst }

func (f *fakeRepo) Exists(ctx context.Context, torrentHash, sourcePath, targetPath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exist[key(torrentHash, sourcePath, targetPath)], nil
}

func (f *fakeRepo) Insert(ctx context.Context, h domain.Hardlink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, h)
	f.exist[key(h.TorrentHash, h.OriginalFilePath, h.HardlinkPath)] = true
	return nil
}

func (f *fakeRepo) ListByTorrent(ctx context.Context, torrentHash string) ([]domain.Hardlink, error) {
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

func (f *fakeRepo) DeleteByTorrent(ctx context.Context, torrentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.Hardlink
	for _, r := range f.rows {
		if r.TorrentHash != torrentHash {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func TestMaterializeCreatesLinksAndIsIdempotent(t *testing.T) {
	srcDir := t.TempDir()
	libDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(srcDir, "ep01.mkv"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	svc := New(repo, Roots{AnimeTV: libDir}, pathconv.Converter{}, nil)

	plan := domain.RenamePlan{Entries: []domain.RenamePlanEntry{
		{SourcePath: "ep01.mkv", TargetRelativePath: "Season 1/Show - S01E01.mkv", Class: domain.FileVideo},
	}}

	outcomes, err := svc.Materialize(context.Background(), "hash1", "anime1", domain.MediaAnime, domain.CategoryTV, srcDir, plan)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Linked {
		t.Fatalf("expected one linked outcome, got %+v", outcomes)
	}
	if !Archived(outcomes) {
		t.Fatal("expected Archived() true")
	}
	target := filepath.Join(libDir, "Season 1", "Show - S01E01.mkv")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected target file to exist: %v", err)
	}

	// Second run is a no-op: no new Hardlink rows, no error.
	outcomes2, err := svc.Materialize(context.Background(), "hash1", "anime1", domain.MediaAnime, domain.CategoryTV, srcDir, plan)
	if err != nil {
		t.Fatalf("second Materialize() error = %v", err)
	}
	if !outcomes2[0].AlreadyLinked {
		t.Fatalf("expected idempotent no-op on second run, got %+v", outcomes2[0])
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected exactly one Hardlink row after two runs, got %d", len(repo.rows))
	}
}

func TestMaterializeSkipsSkippedEntries(t *testing.T) {
	srcDir := t.TempDir()
	libDir := t.TempDir()
	repo := newFakeRepo()
	svc := New(repo, Roots{AnimeTV: libDir}, pathconv.Converter{}, nil)

	plan := domain.RenamePlan{Entries: []domain.RenamePlanEntry{
		{SourcePath: "NCOP.mkv", Skipped: true, Class: domain.FileVideo},
	}}
	outcomes, err := svc.Materialize(context.Background(), "hash1", "anime1", domain.MediaAnime, domain.CategoryTV, srcDir, plan)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if !outcomes[0].Skipped || outcomes[0].Linked {
		t.Fatalf("expected skipped outcome, got %+v", outcomes[0])
	}
	if len(repo.rows) != 0 {
		t.Fatalf("expected no rows for skipped entries, got %d", len(repo.rows))
	}
}
