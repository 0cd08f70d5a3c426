// Package qbittorrent implements ports.Downloader against the qBittorrent
// WebAPI v2, the concrete downloader adapter spec.md §1 scopes out of the
// core. Grounded on the endpoint paths and JSON field names of the
// teacher's torrent-notifier/internal/qbt/handler.go, inverted from a
// server-side shim into a client caller.
package qbittorrent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
)

// requestsPerSecond caps outbound calls to the qBittorrent WebAPI. A single
// instance typically runs on localhost/LAN next to the downloader, so this
// exists to smooth bursts (e.g. a feed-check expanding into many
// add_torrent calls) rather than to respect a remote rate limit.
const requestsPerSecond = 10

// Client is a thin qBittorrent WebAPI v2 caller. AddTorrent is idempotent
// on an already-known hash per the port's contract: qBittorrent itself
// treats re-adding an existing hash as a no-op, so no extra bookkeeping is
// needed here.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	cookie string
}

func New(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// do waits for rate budget before issuing req, so a burst of completions
// or additions never hammers qBittorrent faster than requestsPerSecond.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("qbittorrent: rate limit wait: %w", err)
	}
	return c.httpClient.Do(req)
}

var _ ports.Downloader = (*Client)(nil)

func (c *Client) Login(ctx context.Context) error {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("qbittorrent: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamFault, "qbittorrent login failed", err, nil)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.KindUpstreamFault, "qbittorrent login rejected", apperr.Ctx{"status_code": resp.StatusCode})
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == "SID" {
			c.mu.Lock()
			c.cookie = ck.Value
			c.mu.Unlock()
			break
		}
	}
	return nil
}

func (c *Client) sid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie
}

func (c *Client) authedRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sid := c.sid(); sid != "" {
		req.AddCookie(&http.Cookie{Name: "SID", Value: sid})
	}
	return req, nil
}

// AddTorrent submits a magnet URI or .torrent source. qBittorrent's
// /torrents/add accepts either a bare magnet in "urls" or a multipart
// upload; this adapter only uses the "urls" form and sends source there as
// given. A local .torrent file path is not uploaded as a multipart file.
func (c *Client) AddTorrent(ctx context.Context, source, category, savePath string) error {
	form := url.Values{"urls": {source}}
	if category != "" {
		form.Set("category", category)
	}
	if savePath != "" {
		form.Set("savepath", savePath)
	}
	req, err := c.authedRequest(ctx, http.MethodPost, "/api/v2/torrents/add", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return fmt.Errorf("qbittorrent: build add request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamFault, "qbittorrent add_torrent failed", err, apperr.Ctx{"source": source})
	}
	defer drain(resp.Body)
	if resp.StatusCode >= 300 {
		return apperr.New(apperr.KindUpstreamFault, "qbittorrent add_torrent rejected", apperr.Ctx{"status_code": resp.StatusCode})
	}
	return nil
}

type qbtTorrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	SavePath string  `json:"save_path"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
}

func (c *Client) GetTorrentInfo(ctx context.Context, hashID string) (ports.TorrentInfo, error) {
	path := "/api/v2/torrents/info?hashes=" + url.QueryEscape(hashID)
	req, err := c.authedRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return ports.TorrentInfo{}, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return ports.TorrentInfo{}, apperr.Wrap(apperr.KindUpstreamFault, "qbittorrent get_torrent_info failed", err, apperr.Ctx{"hash_id": hashID})
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return ports.TorrentInfo{}, apperr.New(apperr.KindUpstreamFault, "qbittorrent get_torrent_info rejected", apperr.Ctx{"status_code": resp.StatusCode})
	}
	var list []qbtTorrentInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return ports.TorrentInfo{}, fmt.Errorf("qbittorrent: decode torrents info: %w", err)
	}
	if len(list) == 0 {
		return ports.TorrentInfo{}, apperr.New(apperr.KindNotFound, "torrent not found", apperr.Ctx{"hash_id": hashID})
	}
	t := list[0]
	return ports.TorrentInfo{HashID: t.Hash, Name: t.Name, SavePath: t.SavePath, Size: t.Size, Progress: t.Progress}, nil
}

type qbtFileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (c *Client) GetTorrentFiles(ctx context.Context, hashID string) ([]domain.TorrentFile, error) {
	path := "/api/v2/torrents/files?hash=" + url.QueryEscape(hashID)
	req, err := c.authedRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFault, "qbittorrent get_torrent_files failed", err, apperr.Ctx{"hash_id": hashID})
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamFault, "qbittorrent get_torrent_files rejected", apperr.Ctx{"status_code": resp.StatusCode})
	}
	var list []qbtFileInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("qbittorrent: decode torrent files: %w", err)
	}
	files := make([]domain.TorrentFile, 0, len(list))
	for _, f := range list {
		files = append(files, domain.TorrentFile{Name: f.Name, Size: f.Size})
	}
	return files, nil
}

func (c *Client) GetAllTorrents(ctx context.Context) ([]ports.TorrentInfo, error) {
	req, err := c.authedRequest(ctx, http.MethodGet, "/api/v2/torrents/info", nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFault, "qbittorrent get_all_torrents failed", err, nil)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamFault, "qbittorrent get_all_torrents rejected", apperr.Ctx{"status_code": resp.StatusCode})
	}
	var list []qbtTorrentInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("qbittorrent: decode all torrents: %w", err)
	}
	out := make([]ports.TorrentInfo, 0, len(list))
	for _, t := range list {
		out = append(out, ports.TorrentInfo{HashID: t.Hash, Name: t.Name, SavePath: t.SavePath, Size: t.Size, Progress: t.Progress})
	}
	return out, nil
}

func (c *Client) DeleteTorrent(ctx context.Context, hashID string, deleteFiles bool) error {
	form := url.Values{"hashes": {hashID}, "deleteFiles": {strconv.FormatBool(deleteFiles)}}
	req, err := c.authedRequest(ctx, http.MethodPost, "/api/v2/torrents/delete", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return fmt.Errorf("qbittorrent: build delete request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamFault, "qbittorrent delete_torrent failed", err, apperr.Ctx{"hash_id": hashID})
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.KindUpstreamFault, "qbittorrent delete_torrent rejected", apperr.Ctx{"status_code": resp.StatusCode})
	}
	return nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
