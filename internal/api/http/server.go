// Package http implements the webhook inbound HTTP surface (§6): the
// downloader-completion POST endpoint, health/status probes, and a
// websocket status push, mirroring the composition of the teacher's
// internal/api/http/server.go (stdlib ServeMux + otelhttp + a
// BroadcastStates-style push loop, here generalised to Key Pool/Circuit
// Breaker/Queue statistics instead of torrent session state).
package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/queue"
)

// WebhookQueue is the narrow surface the HTTP handler needs from C5: it
// enqueues, never processes synchronously, per spec §4.5.
type WebhookQueue interface {
	Enqueue(eventKind string, payload domain.WebhookPayload, metadata map[string]any) domain.QueueEvent[domain.WebhookPayload]
	Statistics() queue.Stats
}

// StatusSource supplies the JSON snapshot pushed over /ws/status.
type StatusSource func() any

// Server is the composition root's HTTP handler: webhook ingest, health,
// status, a live status websocket, and the Prometheus /metrics endpoint.
type Server struct {
	mux      *http.ServeMux
	webhook  WebhookQueue
	status   StatusSource
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

func NewServer(webhookQueue WebhookQueue, status StatusSource, logger *slog.Logger) *Server {
	s := &Server{
		webhook: webhookQueue,
		status:  status,
		logger:  logger,
		sockets: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/qbit", s.handleWebhook)
	mux.HandleFunc("GET /webhook/health", s.handleHealth)
	mux.HandleFunc("GET /webhook/status", s.handleStatus)
	mux.HandleFunc("GET /ws/status", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	otelhttp.NewHandler(s.mux, "anidown.webhook").ServeHTTP(w, r)
}

// inboundWebhook is the JSON shape accepted from the downloader. Extra
// fields are carried into WebhookPayload.ExtraData unexamined.
type inboundWebhook struct {
	EventType   string `json:"event_type"`
	Hash        string `json:"hash"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	SavePath    string `json:"save_path"`
	ContentPath string `json:"content_path"`
}

var knownWebhookFields = map[string]bool{
	"event_type": true, "hash": true, "name": true,
	"category": true, "save_path": true, "content_path": true,
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "cannot read body"})
		return
	}

	var body inboundWebhook
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}
	if body.Hash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "missing hash"})
		return
	}
	if body.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "missing event_type"})
		return
	}

	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	extra := map[string]any{}
	for k, v := range fields {
		if !knownWebhookFields[k] {
			extra[k] = v
		}
	}

	payload := domain.WebhookPayload{
		HashID:    body.Hash,
		Name:      body.Name,
		Category:  body.Category,
		Status:    body.EventType,
		SavePath:  firstNonEmpty(body.SavePath, body.ContentPath),
		ExtraData: extra,
	}
	event := s.webhook.Enqueue(body.EventType, payload, nil)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":         true,
		"queued":          true,
		"queue_id":        event.QueueID,
		"received_at_utc": time.Now().UTC().Format(time.RFC3339),
		"queue_len":       s.webhook.Statistics().Pending,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.webhook.Statistics()
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"queue_len":    stats.Pending,
			"thread_alive": stats.Running,
			"paused":       stats.Paused,
			"success_rate": stats.SuccessRate(),
		},
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("http: websocket upgrade failed", slog.Any("error", err))
		}
		return
	}
	s.mu.Lock()
	s.sockets[conn] = struct{}{}
	s.mu.Unlock()

	if s.status != nil {
		_ = conn.WriteJSON(s.status())
	}

	defer func() {
		s.mu.Lock()
		delete(s.sockets, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Drain and discard inbound frames; this channel is push-only, but a
	// read loop is required to notice the client disconnecting.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastStatus pushes the current snapshot to every connected socket;
// intended to be called from the composition root's periodic ticker.
func (s *Server) BroadcastStatus() {
	if s.status == nil {
		return
	}
	snapshot := s.status()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.sockets {
		if err := conn.WriteJSON(snapshot); err != nil {
			_ = conn.Close()
			delete(s.sockets, conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
