// Package chatnotify implements ports.Notifier as a channel-keyed webhook
// POST sender (Discord-style embeds), grounded on the best-effort,
// never-fatal outbound-POST pattern of the teacher's
// torrent-notifier/internal/notifier/notifier.go.
package chatnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/1morr/anidown/internal/domain/ports"
)

// Sender posts structured notifications to per-channel webhook URLs. A
// channel with no configured URL is a successful no-op, per spec §6.
type Sender struct {
	urls       map[ports.NotificationChannel]string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(urls map[ports.NotificationChannel]string, httpClient *http.Client, logger *slog.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Sender{urls: urls, httpClient: httpClient, logger: logger}
}

var _ ports.Notifier = (*Sender)(nil)

type embedPayload struct {
	Title  string            `json:"title"`
	Fields map[string]string `json:"fields,omitempty"`
}

type webhookBody struct {
	Content string         `json:"content,omitempty"`
	Embeds  []embedPayload `json:"embeds,omitempty"`
}

// Send posts to the channel's configured URL. A send failure is logged and
// returned for the caller's own logging, but per spec §7 is never fatal to
// the caller's caller — orchestrator call sites only log it.
func (s *Sender) Send(ctx context.Context, channel ports.NotificationChannel, embeds []ports.NotificationEmbed, content string) (ports.NotifyResult, error) {
	rawURL := strings.TrimSpace(s.urls[channel])
	if rawURL == "" {
		return ports.NotifyResult{Success: true}, nil
	}

	body := webhookBody{Content: content}
	for _, e := range embeds {
		body.Embeds = append(body.Embeds, embedPayload{Title: e.Title, Fields: e.Fields})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ports.NotifyResult{Success: false, Error: err.Error()}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(raw))
	if err != nil {
		return ports.NotifyResult{Success: false, Error: err.Error()}, fmt.Errorf("chatnotify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("chatnotify: send failed", slog.String("channel", string(channel)), slog.Any("error", err))
		}
		return ports.NotifyResult{Success: false, Error: err.Error()}, nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		if s.logger != nil {
			s.logger.Warn("chatnotify: non-2xx response", slog.String("channel", string(channel)), slog.Int("status_code", resp.StatusCode))
		}
		return ports.NotifyResult{Success: false, StatusCode: resp.StatusCode}, nil
	}
	return ports.NotifyResult{Success: true, StatusCode: resp.StatusCode}, nil
}
