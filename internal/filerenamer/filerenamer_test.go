package filerenamer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/breaker"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/keypool"
)

// fakeUpstream returns 30 unique targets per call, offset by callIndex so
// batch 2 never collides with batch 1.
func fakeUpstream(callCount *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx := atomic.AddInt32(callCount, 1) - 1
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		mainFiles := map[string]string{}
		for i := 0; i < 30; i++ {
			src := fmt.Sprintf("file_%d_%d.mkv", idx, i)
			mainFiles[src] = fmt.Sprintf("Season 1/Show - S01E%02d.mkv", int(idx)*30+i+1)
		}
		resp := map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": mustJSON(map[string]any{
						"main_files":    mainFiles,
						"skipped_files": []string{},
						"seasons_info":  map[string]any{"1": map[string]any{"type": "tv", "count": 30}},
						"patterns": map[string]any{
							"episode": `(?<=E)(\d+)`,
						},
						"anime_full_title":    "Show",
						"anime_clean_title":   "Show",
						"subtitle_group_name": "GRP",
						"season":              1,
						"category":            "tv",
					}),
				},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestRenameBatchesWithPriorHardlinks(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(fakeUpstream(&calls))
	defer srv.Close()

	pool := keypool.New("multi_file_rename", []domain.KeySpec{{
		KeyID: "k1", Enabled: true, UpstreamBaseURL: srv.URL, ModelName: "m",
	}}, nil)
	br := breaker.New("multi_file_rename")
	cl := aiclient.New("multi_file_rename", pool, br, srv.Client(), 1, nil)
	renamer := New(cl, 30, 1)

	files := make([]domain.TorrentFile, 60)
	for i := range files {
		files[i] = domain.TorrentFile{Name: fmt.Sprintf("src_%d.mkv", i), Size: 100}
	}

	result, err := renamer.Rename(context.Background(), files, domain.CategoryTV, "Show", nil, nil)
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 upstream calls for 60 files / batch 30, got %d", calls)
	}
	if len(result.MainFiles) != 60 {
		t.Fatalf("expected 60 main files, got %d", len(result.MainFiles))
	}

	seen := map[string]bool{}
	for _, target := range result.MainFiles {
		if seen[target] {
			t.Fatalf("duplicate target path %q across batches", target)
		}
		seen[target] = true
	}
	if info := result.SeasonsInfo["1"]; info.Count != 60 {
		t.Fatalf("expected combined season count 60, got %d", info.Count)
	}
}

func TestPartitionExactMultiple(t *testing.T) {
	files := make([]domain.TorrentFile, 90)
	batches := partition(files, 30)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b) != 30 {
			t.Fatalf("expected batch size 30, got %d", len(b))
		}
	}
}
