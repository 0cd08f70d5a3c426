// Package metadata implements the optional Metadata Provider adapter
// (ports.MetadataProvider) against the TVDB REST v4 API. It is the only
// external collaborator the orchestrator treats as genuinely optional per
// spec §6 — a nil/disabled provider falls back to non-TVDB prompts in the
// File Renamer.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/1morr/anidown/internal/domain/ports"
)

const episodeCacheTTL = 6 * time.Hour

// Client implements ports.MetadataProvider against the TVDB REST v4 API.
// Concurrent lookups for the same series are collapsed via singleflight so
// a burst of completions for one long-running series issues one upstream
// call, not N.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      cacheBackend
	group      singleflight.Group

	mu    sync.Mutex
	token string
	exp   time.Time
}

// New builds a TVDB client. redis is the shared connection for the episode
// cache; when nil, an in-process map cache is used instead (the documented
// fallback when REDIS_ADDR is unset).
func New(baseURL, apiKey string, httpClient *http.Client, redis *redis.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	var cache cacheBackend = newMemCache()
	if redis != nil {
		cache = newRedisCache(redis)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		cache:      cache,
	}
}

func (c *Client) login(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.exp) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"apikey": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("tvdb: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tvdb: login: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tvdb: login returned %d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tvdb: decode login response: %w", err)
	}

	c.mu.Lock()
	c.token = out.Data.Token
	c.exp = time.Now().Add(23 * time.Hour)
	c.mu.Unlock()
	return out.Data.Token, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	token, err := c.login(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tvdb: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tvdb: GET %s: %w", path, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tvdb: GET %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) SearchSeries(ctx context.Context, name string) ([]ports.SeriesResult, error) {
	var out struct {
		Data []struct {
			TVDBID string `json:"tvdb_id"`
			Name   string `json:"name"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/search?query="+urlEscape(name)+"&type=series", &out); err != nil {
		return nil, err
	}
	results := make([]ports.SeriesResult, 0, len(out.Data))
	for _, d := range out.Data {
		id, err := strconv.ParseInt(d.TVDBID, 10, 64)
		if err != nil {
			continue
		}
		results = append(results, ports.SeriesResult{ID: id, Name: d.Name})
	}
	return results, nil
}

func (c *Client) GetSeriesExtended(ctx context.Context, id int64) (ports.SeriesExtended, error) {
	var out struct {
		Data struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/series/%d/extended", id), &out); err != nil {
		return ports.SeriesExtended{}, err
	}
	return ports.SeriesExtended{ID: out.Data.ID, Name: out.Data.Name}, nil
}

// GetAllEpisodes returns every episode of a series, cached for
// episodeCacheTTL and collapsed via singleflight across concurrent callers.
func (c *Client) GetAllEpisodes(ctx context.Context, id int64) ([]ports.Episode, error) {
	key := strconv.FormatInt(id, 10)

	if raw, found, err := c.cache.Get(ctx, key); err == nil && found {
		if episodes, err := unmarshalCache[[]ports.Episode](raw); err == nil {
			return episodes, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		episodes, err := c.fetchAllEpisodes(ctx, id)
		if err != nil {
			return nil, err
		}
		if raw, err := marshalCache(episodes); err == nil {
			_ = c.cache.Set(ctx, key, raw, episodeCacheTTL)
		}
		return episodes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ports.Episode), nil
}

func (c *Client) fetchAllEpisodes(ctx context.Context, id int64) ([]ports.Episode, error) {
	var out struct {
		Data struct {
			Episodes []struct {
				SeasonNumber int    `json:"seasonNumber"`
				Number       int    `json:"number"`
				Name         string `json:"name"`
				EnglishName  string `json:"englishName"`
			} `json:"episodes"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/series/%d/episodes/default", id), &out); err != nil {
		return nil, err
	}
	episodes := make([]ports.Episode, 0, len(out.Data.Episodes))
	for _, e := range out.Data.Episodes {
		episodes = append(episodes, ports.Episode{
			SeasonNumber: e.SeasonNumber,
			Number:       e.Number,
			Name:         e.Name,
			EnglishName:  e.EnglishName,
		})
	}
	return episodes, nil
}

func urlEscape(s string) string {
	r := strings.NewReplacer(" ", "%20", "&", "%26")
	return r.Replace(s)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
