package subtitlematch

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

func chatCompletionResponse(content string) string {
	body := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func TestMatchReturnsPairs(t *testing.T) {
	matches := `{"matches":{"[Grp] Show - 01.mkv":"[Grp] Show - 01.CHT.srt"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(chatCompletionResponse(matches)))
	}))
	defer srv.Close()

	pool := keypool.New("subtitle_match", []domain.KeySpec{
		{KeyID: "k1", Enabled: true, UpstreamBaseURL: srv.URL, Secret: "s", ModelName: "m"},
	}, nil)
	client := aiclient.New("subtitle_match", pool, breaker.New("subtitle_match"), srv.Client(), 3, nil)
	matcher := New(client)

	result, err := matcher.Match(context.Background(),
		[]string{"[Grp] Show - 01.mkv"}, []string{"[Grp] Show - 01.CHT.srt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result["[Grp] Show - 01.mkv"]; got != "[Grp] Show - 01.CHT.srt" {
		t.Fatalf("expected matched subtitle, got %q", got)
	}
}

func TestMatchNoSubtitlesIsNoopWithoutCall(t *testing.T) {
	matcher := New(nil)
	result, err := matcher.Match(context.Background(), []string{"a.mkv"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected empty result, got %v", result)
	}
}
