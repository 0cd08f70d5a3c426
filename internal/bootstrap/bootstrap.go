// Package bootstrap is the shared composition root used by both
// cmd/server (the long-running webhook/RSS process) and cmd/anidownctl
// (the one-shot CLI dispatcher): both need the same Mongo-backed
// repositories, AI Client triples, and Download Orchestrator wired up
// identically, differing only in which goroutines/handlers they drive
// once the Runtime is built.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/1morr/anidown/internal/adapters/chatnotify"
	"github.com/1morr/anidown/internal/adapters/qbittorrent"
	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/app"
	"github.com/1morr/anidown/internal/breaker"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
	"github.com/1morr/anidown/internal/filerenamer"
	"github.com/1morr/anidown/internal/hardlink"
	"github.com/1morr/anidown/internal/keypool"
	"github.com/1morr/anidown/internal/metadata"
	mongorepo "github.com/1morr/anidown/internal/repository/mongo"
	"github.com/1morr/anidown/internal/orchestrator"
	"github.com/1morr/anidown/internal/pathconv"
	"github.com/1morr/anidown/internal/queue"
	"github.com/1morr/anidown/internal/renameservice"
	"github.com/1morr/anidown/internal/rss"
	"github.com/1morr/anidown/internal/subtitlematch"
	"github.com/1morr/anidown/internal/titleparser"
)

// aiPurpose bundles one purpose's Key Pool / Circuit Breaker / AI Client
// triple, kept together so the runtime can snapshot and persist usage for
// all three purposes uniformly at shutdown.
type aiPurpose struct {
	Pool    *keypool.Pool
	Breaker *breaker.Breaker
	Client  *aiclient.Client
}

// Runtime is every collaborator the composition root builds once, shared
// by whichever entry point (server or CLI) drives it.
type Runtime struct {
	Config   app.Config
	Document app.Document
	Logger   *slog.Logger

	Mongo *mongo.Client
	Redis *redis.Client

	Animes     ports.AnimeRepository
	Downloads  ports.DownloadRepository
	Hardlinks  ports.HardlinkRepository
	RSSHistory ports.RSSHistoryRepository
	KeyUsage   ports.KeyUsageRepository

	titleParse aiPurpose
	rename     aiPurpose
	subtitle   aiPurpose

	Downloader   *qbittorrent.Client
	Notifier     ports.Notifier
	Metadata     ports.MetadataProvider
	HardlinkSvc  *hardlink.Service
	Orchestrator *orchestrator.Orchestrator

	WebhookQueue *queue.Queue[domain.WebhookPayload]
	RSSFetcher   *rss.Fetcher
	RSS          *rss.Dispatcher
	Scheduler    *rss.Scheduler
}

// Build dials Mongo (and optionally Redis), constructs every repository
// and service, and returns a fully wired Runtime. It does not start any
// goroutines — callers start the queues/scheduler/HTTP server they need.
func Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	cfg := app.LoadConfig()
	doc, err := app.LoadDocument(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config document: %w", err)
	}

	mongoMonitor := otelmongo.NewMonitor()
	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(mongoMonitor))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: mongo connect: %w", err)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("bootstrap: mongo ping: %w", err)
	}
	db := mongoClient.Database(cfg.MongoDatabase)
	if err := mongorepo.EnsureIndexes(ctx, db); err != nil {
		logger.Warn("bootstrap: ensure indexes failed", slog.String("error", err.Error()))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("bootstrap: redis ping failed, falling back to in-process cache", slog.String("error", err.Error()))
			redisClient = nil
		}
	}

	r := &Runtime{
		Config:     cfg,
		Document:   doc,
		Logger:     logger,
		Mongo:      mongoClient,
		Redis:      redisClient,
		Animes:     mongorepo.NewAnimeRepository(db),
		Downloads:  mongorepo.NewDownloadRepository(db),
		Hardlinks:  mongorepo.NewHardlinkRepository(db),
		RSSHistory: mongorepo.NewRSSHistoryRepository(db),
		KeyUsage:   mongorepo.NewKeyUsageRepository(db),
	}

	r.titleParse = r.buildAIPurpose(ctx, "title_parse", doc.AI.TitleParse)
	r.rename = r.buildAIPurpose(ctx, "multi_file_rename", doc.AI.MultiFileRename)
	r.subtitle = r.buildAIPurpose(ctx, "subtitle_match", doc.AI.SubtitleMatch)

	titleParser := titleparser.New(r.titleParse.Client, doc.LanguagePriority)
	renamer := filerenamer.New(r.rename.Client, 0, 0)
	renameSvc := renameservice.New(renamer)
	renameSvc.Subtitle = subtitlematch.New(r.subtitle.Client)

	conv := pathconv.Converter{
		Enabled: doc.PathConversion.Enabled,
		Source:  doc.PathConversion.SourceBasePath,
		Target:  doc.PathConversion.TargetBasePath,
	}
	roots := hardlink.Roots{
		AnimeTV:         doc.Library.AnimeTV,
		AnimeMovie:      doc.Library.AnimeMovie,
		LiveActionTV:    doc.Library.LiveActionTV,
		LiveActionMovie: doc.Library.LiveActionMovie,
	}
	r.HardlinkSvc = hardlink.New(r.Hardlinks, roots, conv, logger)

	r.Downloader = qbittorrent.New(doc.Downloader.BaseURL, doc.Downloader.Username, doc.Downloader.Password, nil)

	notifyURLs := make(map[ports.NotificationChannel]string, len(doc.Notifications))
	for k, v := range doc.Notifications {
		notifyURLs[ports.NotificationChannel(k)] = v
	}
	r.Notifier = chatnotify.New(notifyURLs, nil, logger)

	if doc.Metadata.APIKey != "" {
		r.Metadata = metadata.New(doc.Metadata.BaseURL, doc.Metadata.APIKey, nil, redisClient)
	}

	r.Orchestrator = orchestrator.New(r.Animes, r.Downloads, r.Downloader, r.Notifier, titleParser, renameSvc, r.HardlinkSvc, logger)
	r.Orchestrator.Metadata = r.Metadata

	r.WebhookQueue = orchestrator.NewWebhookQueue(r.Orchestrator, logger)

	r.RSSFetcher = rss.NewFetcher(nil)
	r.RSS = rss.NewDispatcher(r.RSSFetcher, r.RSSHistory, r.Downloads, r.Orchestrator, logger)

	feeds := make([]rss.FeedConfig, 0, len(doc.RSS.FixedURLs))
	for _, f := range doc.RSS.FixedURLs {
		feeds = append(feeds, rss.FeedConfig{
			URL: f.URL,
			Filter: domain.FilterConfig{
				BlockedKeywords: f.BlockedKeywords,
				BlockedRegex:    f.BlockedRegex,
				MediaType:       f.MediaType,
			},
		})
	}
	r.Scheduler = rss.NewScheduler(r.RSS, feeds, doc.RSS.Interval(), "anime", logger)

	return r, nil
}

func (r *Runtime) buildAIPurpose(ctx context.Context, purpose string, cfg app.AIPurposeConfig) aiPurpose {
	specs := buildKeySpecs(cfg)
	pool := keypool.New(purpose, specs, r.Logger)

	if snapshot, err := r.KeyUsage.Load(ctx, purpose); err != nil {
		r.Logger.Warn("bootstrap: key usage load failed", slog.String("purpose", purpose), slog.String("error", err.Error()))
	} else if len(snapshot) > 0 {
		pool.LoadUsage(snapshot)
	}

	br := breaker.New(purpose)
	client := aiclient.New(purpose, pool, br, &http.Client{Timeout: cfg.Timeout()}, cfg.Retries, r.Logger)
	return aiPurpose{Pool: pool, Breaker: br, Client: client}
}

// buildKeySpecs canonicalises a purpose's single-key/key-pool dual shape
// into the uniform []domain.KeySpec the Key Pool consumes.
func buildKeySpecs(cfg app.AIPurposeConfig) []domain.KeySpec {
	if len(cfg.KeyPool) > 0 {
		specs := make([]domain.KeySpec, 0, len(cfg.KeyPool))
		for _, k := range cfg.KeyPool {
			specs = append(specs, domain.KeySpec{
				KeyID:           k.Name,
				DisplayName:     k.Name,
				Secret:          k.APIKey,
				UpstreamBaseURL: cfg.BaseURL,
				ModelName:       cfg.Model,
				RPMLimit:        k.RPM,
				RPDLimit:        k.RPD,
				Enabled:         k.Enabled,
			})
		}
		return specs
	}
	if cfg.APIKey == "" {
		return nil
	}
	return []domain.KeySpec{{
		KeyID:           "default",
		DisplayName:     "default",
		Secret:          cfg.APIKey,
		UpstreamBaseURL: cfg.BaseURL,
		ModelName:       cfg.Model,
		Enabled:         true,
	}}
}

// StatusSnapshot assembles the map pushed over /ws/status. GET
// /webhook/status builds its own response and does not use it.
func (r *Runtime) StatusSnapshot() map[string]any {
	return map[string]any{
		"title_parse_pool":          r.titleParse.Pool.GetStatus(),
		"title_parse_breaker":       r.titleParse.Breaker.Status(),
		"multi_file_rename_pool":    r.rename.Pool.GetStatus(),
		"multi_file_rename_breaker": r.rename.Breaker.Status(),
		"subtitle_match_pool":       r.subtitle.Pool.GetStatus(),
		"subtitle_match_breaker":    r.subtitle.Breaker.Status(),
		"webhook_queue":             r.WebhookQueue.Statistics(),
		"rss_queue":                 r.RSS.Queue.Statistics(),
	}
}

// Shutdown persists every AI purpose's key-usage snapshot and releases the
// Mongo/Redis connections. It does not stop queues or HTTP servers — the
// caller owns those lifecycles.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.persistKeyUsage(ctx, "title_parse", r.titleParse.Pool)
	r.persistKeyUsage(ctx, "multi_file_rename", r.rename.Pool)
	r.persistKeyUsage(ctx, "subtitle_match", r.subtitle.Pool)

	if err := r.Mongo.Disconnect(ctx); err != nil {
		r.Logger.Warn("bootstrap: mongo disconnect error", slog.String("error", err.Error()))
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}

func (r *Runtime) persistKeyUsage(ctx context.Context, purpose string, pool *keypool.Pool) {
	for keyID, usage := range pool.Snapshot() {
		if err := r.KeyUsage.Save(ctx, purpose, keyID, usage); err != nil {
			r.Logger.Warn("bootstrap: key usage save failed",
				slog.String("purpose", purpose), slog.String("key_id", keyID), slog.String("error", err.Error()))
		}
	}
}
