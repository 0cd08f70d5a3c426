package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "github.com/1morr/anidown/internal/api/http"
	"github.com/1morr/anidown/internal/bootstrap"
	"github.com/1morr/anidown/internal/metrics"
	"github.com/1morr/anidown/internal/telemetry"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "anidown")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	buildCtx, buildCancel := context.WithTimeout(rootCtx, 10*time.Second)
	rt, err := bootstrap.Build(buildCtx, logger)
	buildCancel()
	if err != nil {
		logger.Error("bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("webhookAddr", rt.Config.WebhookAddr),
		slog.String("webUIAddr", rt.Config.WebUIAddr),
		slog.String("mongoDatabase", rt.Config.MongoDatabase),
		slog.Bool("redisEnabled", rt.Redis != nil),
	)

	if err := rt.Downloader.Login(rootCtx); err != nil {
		logger.Warn("qbittorrent login failed, will retry on first use", slog.String("error", err.Error()))
	}

	rt.WebhookQueue.Start(rootCtx)
	rt.RSS.Queue.Start(rootCtx)
	go rt.Scheduler.Run(rootCtx)

	server := apihttp.NewServer(rt.WebhookQueue, func() any { return rt.StatusSnapshot() }, logger)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				server.BroadcastStatus()
			}
		}
	}()

	httpAddr := rt.Config.WebhookAddr
	if rt.Document.Webhook.Port != 0 {
		httpAddr = rt.Document.Webhook.Addr()
	}
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("server started", slog.String("addr", httpAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	rt.WebhookQueue.Stop()
	rt.RSS.Queue.Stop()
	rt.Scheduler.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	rt.Shutdown(shutdownCtx)

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
