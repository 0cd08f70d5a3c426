// Package aiclient provides a family of single-purpose upstream LLM
// callers. Each Client wraps one keypool.Pool and one breaker.Breaker and
// exposes a schema-validated Call; purpose-specific callers (title parse,
// multi-file rename, subtitle match) are thin wrappers in this package that
// fix the schema and prompt shape.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/breaker"
	"github.com/1morr/anidown/internal/keypool"
	"github.com/1morr/anidown/internal/metrics"
)

// Schema validates a decoded response map against a purpose's required
// shape and returns the typed result, or an error that triggers a retry.
type Schema interface {
	// Name identifies the schema for the request's response_format field.
	Name() string
	// Validate decodes and checks raw JSON, returning the typed value.
	Validate(raw []byte) (any, error)
}

// Client is one purpose-scoped upstream caller.
type Client struct {
	Purpose     string
	Pool        *keypool.Pool
	Breaker     *breaker.Breaker
	HTTPClient  *http.Client
	MaxRetries  int
	Logger      *slog.Logger
	Tracer      Tracer

	now func() time.Time
}

// Tracer receives every call attempt, success or failure, for the optional
// rotating debug trace. A nil Tracer disables tracing entirely.
type Tracer interface {
	Trace(rec TraceRecord)
}

type TraceRecord struct {
	Purpose      string
	Prompt       string
	UserMessage  string
	Model        string
	ResponseBody string
	ResponseTime time.Duration
	Outcome      string
	Err          string
}

// New builds a Client. httpClient may be nil (http.DefaultClient is used).
func New(purpose string, pool *keypool.Pool, br *breaker.Breaker, httpClient *http.Client, maxRetries int, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		Purpose:    purpose,
		Pool:       pool,
		Breaker:    br,
		HTTPClient: httpClient,
		MaxRetries: maxRetries,
		Logger:     logger,
		now:        time.Now,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	Stream         bool           `json:"stream"`
	ResponseFormat string         `json:"response_format,omitempty"`
	ExtraBody      map[string]any `json:"-"`
}

// MarshalJSON merges ExtraBody first, then lets the typed fields win —
// resolving the extra_body/extra_params precedence requirement: pass-through
// fields can never overwrite model/messages/temperature/stream.
func (r chatRequest) MarshalJSON() ([]byte, error) {
	merged := map[string]any{}
	for k, v := range r.ExtraBody {
		merged[k] = v
	}
	merged["model"] = r.Model
	merged["messages"] = r.Messages
	merged["temperature"] = r.Temperature
	merged["stream"] = r.Stream
	if r.ResponseFormat != "" {
		merged["response_format"] = r.ResponseFormat
	}
	return json.Marshal(merged)
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Call issues the prompt+user_msg pair for the given schema, retrying on
// transient failures up to MaxRetries, exactly per the source's algorithm:
// breaker short-circuit, reserve-or-fail, POST, classify-and-retry,
// exponential backoff 2^(attempt-1) seconds.
func (c *Client) Call(ctx context.Context, prompt, userMsg string, schema Schema, extraBody map[string]any) (any, error) {
	started := c.now()
	result, err := c.call(ctx, prompt, userMsg, schema, extraBody)
	metrics.AIClientCallDuration.WithLabelValues(c.Purpose).Observe(c.now().Sub(started).Seconds())
	outcome := "success"
	if err != nil {
		if kind, ok := apperr.KindOf(err); ok {
			outcome = string(kind)
		} else {
			outcome = "error"
		}
	}
	metrics.AIClientCallsTotal.WithLabelValues(c.Purpose, outcome).Inc()
	return result, err
}

func (c *Client) call(ctx context.Context, prompt, userMsg string, schema Schema, extraBody map[string]any) (any, error) {
	if c.Breaker.IsOpen() {
		status := c.Breaker.Status()
		remaining := status.OpenUntil.Sub(c.now())
		if remaining < 0 {
			remaining = 0
		}
		return nil, apperr.New(apperr.KindCircuitOpen, "circuit breaker open", apperr.Ctx{
			"purpose":           c.Purpose,
			"remaining_seconds": int(remaining.Seconds()),
		})
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		result, retryable, err := c.attempt(ctx, prompt, userMsg, schema, extraBody)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt == c.MaxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if kind, ok := apperr.KindOf(lastErr); ok && kind == apperr.KindCircuitOpen {
		return nil, lastErr
	}
	return nil, apperr.Wrap(apperr.KindUpstreamFault, "max retries exceeded", lastErr, apperr.Ctx{"purpose": c.Purpose})
}

// attempt performs one reserve+POST+classify cycle. The bool return
// indicates whether the caller should retry.
func (c *Client) attempt(ctx context.Context, prompt, userMsg string, schema Schema, extraBody map[string]any) (any, bool, error) {
	reservation, err := c.Pool.Reserve(ctx, true, false)
	if err != nil {
		return nil, false, err
	}
	if reservation == nil {
		return nil, false, apperr.New(apperr.KindKeysExhausted, "no reservable key", apperr.Ctx{"purpose": c.Purpose})
	}

	started := c.now()
	body := chatRequest{
		Model:          reservation.ModelName,
		Messages:       []chatMessage{{Role: "system", Content: prompt}, {Role: "user", Content: userMsg}},
		Temperature:    0.1,
		Stream:         false,
		ResponseFormat: schema.Name(),
		ExtraBody:      extraBody,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindValidation, "encode request", err, nil)
	}

	url := reservation.UpstreamBaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindValidation, "build request", err, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+reservation.Secret)

	resp, err := c.HTTPClient.Do(req)
	respTime := c.now().Sub(started)
	if err != nil {
		c.Pool.ReportError(reservation.KeyID, err.Error(), 0, 0)
		c.trace(prompt, userMsg, reservation.ModelName, "", respTime, "transient_error", err)
		return nil, true, apperr.Wrap(apperr.KindUpstreamFault, "request failed", err, nil)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.Pool.ReportError(reservation.KeyID, err.Error(), resp.StatusCode, 0)
		return nil, true, apperr.Wrap(apperr.KindUpstreamFault, "read response", err, nil)
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), raw)
		c.Pool.ReportError(reservation.KeyID, string(raw), resp.StatusCode, retryAfter)
		c.trace(prompt, userMsg, reservation.ModelName, string(raw), respTime, "upstream_error", fmt.Errorf("status %d", resp.StatusCode))

		if status := c.Pool.GetStatus(); status.AllInLongCooling {
			c.Breaker.Trip(0, "all keys in long cooling")
			remaining := c.Breaker.Status().OpenUntil.Sub(c.now())
			return nil, false, apperr.New(apperr.KindCircuitOpen, "circuit breaker tripped", apperr.Ctx{
				"purpose":           c.Purpose,
				"remaining_seconds": int(remaining.Seconds()),
			})
		}
		return nil, true, apperr.New(apperr.KindUpstreamFault, fmt.Sprintf("upstream status %d", resp.StatusCode), apperr.Ctx{"status_code": resp.StatusCode})
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil || len(chat.Choices) == 0 {
		c.Pool.ReportSuccess(reservation.KeyID)
		c.trace(prompt, userMsg, reservation.ModelName, string(raw), respTime, "parse_error", err)
		return nil, true, apperr.New(apperr.KindParseFailure, "malformed chat completion envelope", nil)
	}

	content := chat.Choices[0].Message.Content
	result, verr := schema.Validate([]byte(content))
	if verr != nil {
		c.Pool.ReportSuccess(reservation.KeyID)
		c.trace(prompt, userMsg, reservation.ModelName, content, respTime, "parse_error", verr)
		return nil, true, apperr.Wrap(apperr.KindParseFailure, "schema validation failed", verr, nil)
	}

	c.Pool.ReportSuccess(reservation.KeyID)
	c.trace(prompt, userMsg, reservation.ModelName, content, respTime, "success", nil)
	return result, false, nil
}

func (c *Client) trace(prompt, userMsg, model, respBody string, respTime time.Duration, outcome string, err error) {
	if c.Tracer == nil {
		return
	}
	rec := TraceRecord{
		Purpose:      c.Purpose,
		Prompt:       prompt,
		UserMessage:  userMsg,
		Model:        model,
		ResponseBody: respBody,
		ResponseTime: respTime,
		Outcome:      outcome,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	c.Tracer.Trace(rec)
}

// parseRetryAfter extracts a numeric Retry-After hint from the header
// first, falling back to a best-effort scan of the body for a
// "retry_after" field, per the source's "extract numeric hint from body"
// allowance.
func parseRetryAfter(header string, body []byte) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	var probe struct {
		RetryAfter float64 `json:"retry_after"`
		Error      struct {
			RetryAfter float64 `json:"retry_after"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		if probe.RetryAfter > 0 {
			return time.Duration(probe.RetryAfter * float64(time.Second))
		}
		if probe.Error.RetryAfter > 0 {
			return time.Duration(probe.Error.RetryAfter * float64(time.Second))
		}
	}
	return 0
}
