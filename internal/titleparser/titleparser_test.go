package titleparser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/breaker"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/keypool"
)

func newTestParser(t *testing.T, handler http.HandlerFunc) (*Parser, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	pool := keypool.New("title_parse", []domain.KeySpec{{
		KeyID: "k1", Enabled: true, UpstreamBaseURL: srv.URL, ModelName: "m",
	}}, nil)
	br := breaker.New("title_parse")
	cl := aiclient.New("title_parse", pool, br, srv.Client(), 2, nil)
	return New(cl, []string{"zh", "en"}), srv.Close
}

func TestParseSuccess(t *testing.T) {
	parser, closeFn := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": `{"original_title":"","clean_title":"葬送的芙莉莲","full_title":"葬送のフリーレン","subtitle_group":"ANi","season":1,"episode":2,"category":"tv"}`,
				},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer closeFn()

	got, err := parser.Parse(context.Background(), "[ANi] 葬送的芙莉莲 - 02 [1080P][Baha][WEB-DL][AAC AVC][CHT][MP4]")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.CleanTitle != "葬送的芙莉莲" || got.Season != 1 || got.Episode == nil || *got.Episode != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Category != domain.CategoryTV {
		t.Fatalf("category = %v, want tv", got.Category)
	}
}

func TestParseUpstreamFailureSurfaces(t *testing.T) {
	parser, closeFn := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeFn()

	if _, err := parser.Parse(context.Background(), "some title"); err == nil {
		t.Fatal("expected error from exhausted retries")
	}
}
