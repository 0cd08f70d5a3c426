package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FeedItem is one <item> parsed out of an RSS 2.0 document.
type FeedItem struct {
	Title       string
	Link        string
	GUID        string
	Description string
	PubDate     time.Time
}

type rssXML struct {
	Channel struct {
		Items []rssItemXML `xml:"item"`
	} `xml:"channel"`
}

type rssItemXML struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05Z07:00",
}

// Fetcher retrieves and parses an RSS 2.0 feed over HTTP.
type Fetcher struct {
	Client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss: %s returned status %d", feedURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rss: read body: %w", err)
	}

	var doc rssXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("rss: parse %s: %w", feedURL, err)
	}

	items := make([]FeedItem, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		items = append(items, FeedItem{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			GUID:        strings.TrimSpace(it.GUID),
			Description: strings.TrimSpace(it.Description),
			PubDate:     parsePubDate(it.PubDate),
		})
	}
	return items, nil
}

func parsePubDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// HashFromLink extracts the 40-hex torrent hash from a magnet URI
// ("magnet:?xt=urn:btih:HASH&...") or a bare btih value; empty when the
// link carries no recognisable hash (a direct .torrent URL, for instance —
// the hash is only resolved once the downloader accepts it).
func HashFromLink(link string) string {
	const marker = "btih:"
	idx := strings.Index(strings.ToLower(link), marker)
	if idx < 0 {
		return ""
	}
	rest := link[idx+len(marker):]
	end := strings.IndexAny(rest, "&/ \t")
	if end >= 0 {
		rest = rest[:end]
	}
	rest = strings.ToLower(strings.TrimSpace(rest))
	if len(rest) != 40 {
		return ""
	}
	for _, r := range rest {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return ""
		}
	}
	return rest
}
