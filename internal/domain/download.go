package domain

import "time"

type DownloadStatus string

const (
	DownloadPending       DownloadStatus = "pending"
	DownloadDownloading   DownloadStatus = "downloading"
	DownloadCompleted     DownloadStatus = "completed"
	DownloadMaterialising DownloadStatus = "materialising"
	DownloadArchived      DownloadStatus = "archived"
	DownloadError         DownloadStatus = "error"
)

// DownloadRecord tracks one torrent from submission through to archival.
// Owned by the Download Orchestrator.
type DownloadRecord struct {
	HashID           string // unique
	OriginalFilename string
	AnimeID          *string
	Status           DownloadStatus
	DownloadDirectory string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// Hardlink records one materialised hardlink. At most one row per
// (TorrentHash, OriginalFilePath, HardlinkPath).
type Hardlink struct {
	ID               string
	TorrentHash      string
	AnimeID          string
	OriginalFilePath string
	HardlinkPath     string
	FileSize         int64
	CreatedAt        time.Time
}

type RSSHistoryStatus string

const (
	RSSHistoryProcessing  RSSHistoryStatus = "processing"
	RSSHistoryCompleted   RSSHistoryStatus = "completed"
	RSSHistoryPartial     RSSHistoryStatus = "partial"
	RSSHistoryFailed      RSSHistoryStatus = "failed"
	RSSHistoryInterrupted RSSHistoryStatus = "interrupted"
)

type RSSHistory struct {
	ID             string
	RSSURL         string
	TriggeredBy    TriggerType
	StartedAt      time.Time
	Status         RSSHistoryStatus
	ItemsFound     int
	ItemsAttempted int
	ItemsProcessed int
}

type RSSDetailOutcome string

const (
	OutcomeSuccess  RSSDetailOutcome = "success"
	OutcomeExists   RSSDetailOutcome = "exists"
	OutcomeFiltered RSSDetailOutcome = "filtered"
	OutcomeFailed   RSSDetailOutcome = "failed"
)

type RSSHistoryDetail struct {
	HistoryID string
	ItemTitle string
	Outcome   RSSDetailOutcome
	Reason    string
}
