package domain

import "time"

// QueueEvent wraps a payload with FIFO metadata. Queue is generic over the
// payload type so the Webhook Queue (WebhookPayload) and RSS Queue
// (RSSPayload) share one implementation (see internal/queue).
type QueueEvent[P any] struct {
	QueueID    string // 8-char opaque token
	EventKind  string
	Payload    P
	ReceivedAt time.Time
	Metadata   map[string]any
}

// WebhookPayload is the normalized shape of a downloader completion event.
type WebhookPayload struct {
	HashID    string // 40-hex torrent identifier, canonical key across the system
	Name      string
	Category  string
	Status    string
	SavePath  string
	ExtraData map[string]any
}

// TriggerType identifies what caused an RSS event to be emitted.
type TriggerType string

const (
	TriggerScheduledCheck   TriggerType = "scheduled_check"
	TriggerManualCheck      TriggerType = "manual_check"
	TriggerSingleFeed       TriggerType = "single_feed"
	TriggerFixedSubscription TriggerType = "fixed_subscription"
)

// FilterConfig is the per-feed keyword/regex/media-type filter.
type FilterConfig struct {
	BlockedKeywords string // newline-separated, case-insensitive substrings
	BlockedRegex    string // one pattern per line, ORed
	MediaType       string
}

// RSSPayload covers both disjoint shapes by event kind: feed-level
// (RSSURL/TriggerType/FilterConfig/HistoryID populated, item fields empty)
// and item-level (ItemTitle/TorrentURL populated).
type RSSPayload struct {
	// Feed-level fields.
	RSSURL      string
	TriggerType TriggerType
	Filter      FilterConfig
	HistoryID   string

	// Item-level fields.
	ItemTitle   string
	TorrentURL  string
	HashID      string // may be empty until resolved
	MediaType   string
	Description string
	PubDate     time.Time
}
