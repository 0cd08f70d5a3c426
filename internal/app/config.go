// Package app holds the flat, env-driven process configuration (server
// addresses, Mongo/Redis connection strings, logging) plus the loader for
// the JSON configuration document (RSS feeds, downloader, AI purposes,
// library roots) described by the configuration surface.
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the flat environment-driven process configuration.
type Config struct {
	WebhookAddr   string
	WebUIAddr     string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string // empty disables the metadata cache's Redis backend
	LogLevel      string
	LogFormat     string
	ConfigPath    string // path to the JSON Document merged over these defaults
}

func LoadConfig() Config {
	return Config{
		WebhookAddr:   getEnv("WEBHOOK_ADDR", ":8090"),
		WebUIAddr:     getEnv("WEBUI_ADDR", ":8080"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DB", "anidown"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		ConfigPath:    getEnv("CONFIG_PATH", "config.json"),
	}
}

// RSSFeed is one configured subscription. It accepts either a bare URL
// string or the full object shape in the source JSON document, per the
// dual-shape Open Question resolution: both are canonicalised to this
// struct at load.
type RSSFeed struct {
	URL             string `json:"url"`
	BlockedKeywords string `json:"blocked_keywords"`
	BlockedRegex    string `json:"blocked_regex"`
	MediaType       string `json:"media_type"`
}

func (f *RSSFeed) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		f.URL = bare
		return nil
	}
	type alias RSSFeed
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("config: rss feed entry is neither a string nor an object: %w", err)
	}
	*f = RSSFeed(obj)
	return nil
}

type RSSConfig struct {
	FixedURLs     []RSSFeed `json:"fixed_urls"`
	CheckInterval int       `json:"check_interval"` // seconds, >= 60
}

func (c RSSConfig) Interval() time.Duration {
	seconds := c.CheckInterval
	if seconds < 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

type DownloaderConfig struct {
	BaseURL          string `json:"base_url"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	BaseDownloadPath string `json:"base_download_path"`
	Category         string `json:"category"`
}

// AIKeyConfig is one entry of a purpose's key_pool list.
type AIKeyConfig struct {
	Name    string `json:"name"`
	APIKey  string `json:"api_key"`
	RPM     int    `json:"rpm"`
	RPD     int    `json:"rpd"`
	Enabled bool   `json:"enabled"`
}

// AIPurposeConfig configures one AI Client purpose (title_parse,
// multi_file_rename, subtitle_match). Either APIKey (single key) or
// KeyPool (multiple, round-robin) is populated.
type AIPurposeConfig struct {
	BaseURL   string            `json:"base_url"`
	Model     string            `json:"model"`
	APIKey    string            `json:"api_key"`
	KeyPool   []AIKeyConfig     `json:"key_pool"`
	TimeoutS  int               `json:"timeout"` // 10-600
	Retries   int               `json:"retries"`
	ExtraBody map[string]any    `json:"extra_body"`
}

func (c AIPurposeConfig) Timeout() time.Duration {
	s := c.TimeoutS
	if s < 10 {
		s = 10
	}
	if s > 600 {
		s = 600
	}
	return time.Duration(s) * time.Second
}

type AIRateLimits struct {
	MaxConsecutiveErrors int   `json:"max_consecutive_errors"` // 1..1000
	ShortCooldownSeconds int   `json:"short_cooldown_seconds"`
	LongCooldownLadder   []int `json:"long_cooldown_ladder"`
	BreakerOpenSeconds   int   `json:"breaker_open_seconds"`
}

type AIConfig struct {
	TitleParse      AIPurposeConfig `json:"title_parse"`
	MultiFileRename AIPurposeConfig `json:"multi_file_rename"`
	SubtitleMatch   AIPurposeConfig `json:"subtitle_match"`
	RateLimits      AIRateLimits    `json:"rate_limits"`
}

type LibraryConfig struct {
	AnimeTV         string `json:"anime_tv"`
	AnimeMovie      string `json:"anime_movie"`
	LiveActionTV    string `json:"live_action_tv"`
	LiveActionMovie string `json:"live_action_movie"`
}

type PathConversionConfig struct {
	Enabled        bool   `json:"enabled"`
	SourceBasePath string `json:"source_base_path"`
	TargetBasePath string `json:"target_base_path"`
}

type HostPort struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (h HostPort) Addr() string { return fmt.Sprintf("%s:%d", h.Host, h.Port) }

// NotificationConfig maps a channel name to a webhook URL; an unset channel
// is a successful no-op send.
type NotificationConfig map[string]string

// MetadataConfig configures the optional TVDB metadata provider. An empty
// APIKey disables TVDB enrichment entirely.
type MetadataConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// Document is the JSON configuration surface. It is loaded from the path
// given by Config.ConfigPath and merged over the env-var Config defaults —
// the format itself is a thin pass-through, not hardened beyond basic
// validation, since JSON-file parsing sits outside the core's scope.
type Document struct {
	RSS            RSSConfig            `json:"rss"`
	Downloader     DownloaderConfig     `json:"downloader"`
	AI             AIConfig             `json:"ai"`
	Library        LibraryConfig        `json:"library"`
	PathConversion PathConversionConfig `json:"path_conversion"`
	Webhook        HostPort             `json:"webhook"`
	WebUI          HostPort             `json:"webui"`
	Notifications  NotificationConfig   `json:"notifications"`
	LanguagePriority []string           `json:"language_priority"`
	Metadata       MetadataConfig       `json:"metadata"`
}

// LoadDocument reads and parses the JSON configuration document at path. A
// missing file returns a zero-value Document with no error — every field
// then falls back to its caller-applied default.
func LoadDocument(path string) (Document, error) {
	if path == "" {
		return Document{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return doc, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
