// Package ports defines the narrow interfaces through which the core
// engine consumes external collaborators: the downloader, the metadata
// provider, the notification sender, and persistence. Concrete adapters
// live under internal/adapters and internal/repository.
package ports

import (
	"context"
	"time"

	"github.com/1morr/anidown/internal/domain"
)

// Downloader is the outbound interface to a torrent download back-end
// (e.g. qBittorrent REST). add_torrent must be idempotent when the hash
// already exists.
type Downloader interface {
	Login(ctx context.Context) error
	AddTorrent(ctx context.Context, source, category, savePath string) error
	GetTorrentInfo(ctx context.Context, hashID string) (TorrentInfo, error)
	GetTorrentFiles(ctx context.Context, hashID string) ([]domain.TorrentFile, error)
	GetAllTorrents(ctx context.Context) ([]TorrentInfo, error)
	DeleteTorrent(ctx context.Context, hashID string, deleteFiles bool) error
}

type TorrentInfo struct {
	HashID   string
	Name     string
	SavePath string
	Size     int64
	Progress float64
}

// MetadataProvider is the optional TVDB-like outbound interface. When
// disabled, the orchestrator falls back to non-TVDB prompts in the File
// Renamer.
type MetadataProvider interface {
	SearchSeries(ctx context.Context, name string) ([]SeriesResult, error)
	GetSeriesExtended(ctx context.Context, id int64) (SeriesExtended, error)
	GetAllEpisodes(ctx context.Context, id int64) ([]Episode, error)
}

type SeriesResult struct {
	ID   int64
	Name string
}

type SeriesExtended struct {
	ID   int64
	Name string
}

type Episode struct {
	SeasonNumber int
	Number       int
	Name         string
	EnglishName  string
}

// NotificationChannel is a notification routing target.
type NotificationChannel string

const (
	ChannelRSS      NotificationChannel = "rss"
	ChannelHardlink NotificationChannel = "hardlink"
	ChannelDownload NotificationChannel = "download"
)

// Notifier sends channel-keyed structured notifications. A send failure is
// logged by the implementation and never returned as fatal to the caller's
// caller — callers may still inspect the returned error for logging.
type Notifier interface {
	Send(ctx context.Context, channel NotificationChannel, embeds []NotificationEmbed, content string) (NotifyResult, error)
}

type NotificationEmbed struct {
	Title  string
	Fields map[string]string
}

type NotifyResult struct {
	Success    bool
	StatusCode int
	Error      string
}

// AnimeRepository persists Anime and their stored AnimePatterns.
type AnimeRepository interface {
	FindByKey(ctx context.Context, cleanTitle string, season int, subtitleGroup string, category domain.Category) (domain.Anime, bool, error)
	GetByID(ctx context.Context, animeID string) (domain.Anime, bool, error)
	Create(ctx context.Context, a domain.Anime) error
	GetPatterns(ctx context.Context, animeID string) (domain.AnimePatterns, bool, error)
	SavePatterns(ctx context.Context, p domain.AnimePatterns) error
}

// DownloadRepository persists DownloadRecord rows, including deletion
// history so a removed hash still blocks resubmission.
type DownloadRepository interface {
	ExistsLiveOrDeleted(ctx context.Context, hashID string) (bool, error)
	Create(ctx context.Context, r domain.DownloadRecord) error
	Get(ctx context.Context, hashID string) (domain.DownloadRecord, bool, error)
	UpdateStatus(ctx context.Context, hashID string, status domain.DownloadStatus) error
	MarkCompleted(ctx context.Context, hashID string, completedAt time.Time) error
}

// HardlinkRepository persists Hardlink rows for dedup and reversal.
type HardlinkRepository interface {
	Exists(ctx context.Context, torrentHash, sourcePath, targetPath string) (bool, error)
	Insert(ctx context.Context, h domain.Hardlink) error
	ListByTorrent(ctx context.Context, torrentHash string) ([]domain.Hardlink, error)
	DeleteByTorrent(ctx context.Context, torrentHash string) error
}

// RSSHistoryRepository persists RSSHistory / RSSHistoryDetail rows.
type RSSHistoryRepository interface {
	CreateHistory(ctx context.Context, h domain.RSSHistory) (string, error)
	UpdateHistoryStatus(ctx context.Context, id string, status domain.RSSHistoryStatus, itemsProcessed int) error
	IncrementProcessed(ctx context.Context, id string) error
	AddDetail(ctx context.Context, d domain.RSSHistoryDetail) error
}

// KeyUsageRepository persists KeyUsage snapshots to the ai_key_usage table
// so restarts do not silently re-admit a key mid-cooldown.
type KeyUsageRepository interface {
	Load(ctx context.Context, purpose string) (map[string]domain.KeyUsage, error)
	Save(ctx context.Context, purpose, keyID string, usage domain.KeyUsage) error
}
