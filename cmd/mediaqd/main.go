package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Witriol/mediaq/internal/api"
	"github.com/Witriol/mediaq/internal/archive"
	"github.com/Witriol/mediaq/internal/config"
	"github.com/Witriol/mediaq/internal/credentials"
	"github.com/Witriol/mediaq/internal/db"
	"github.com/Witriol/mediaq/internal/downloader"
	"github.com/Witriol/mediaq/internal/events"
	"github.com/Witriol/mediaq/internal/formats"
	"github.com/Witriol/mediaq/internal/listing"
	"github.com/Witriol/mediaq/internal/logging"
	"github.com/Witriol/mediaq/internal/probe"
	"github.com/Witriol/mediaq/internal/probecache"
	"github.com/Witriol/mediaq/internal/queue"
	"github.com/Witriol/mediaq/internal/resolver"
)

var version = ""

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.Setup(cfg.Env)
	slog.SetDefault(log)
	log.Info("mediaqd starting", "version", versionString(), "env", cfg.Env)

	if err := os.MkdirAll(cfg.Storage.StateDir, 0o755); err != nil {
		fatal(log, "state dir", err)
	}
	dbConn, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		fatal(log, "db open", err)
	}
	defer dbConn.Close()
	store := queue.NewStore(dbConn)

	cache, err := probecache.Open(cfg.Storage.CachePath, cfg.Storage.CacheTTL, log.With("component", "probecache"))
	if err != nil {
		fatal(log, "probe cache open", err)
	}
	defer cache.Close()

	caps := resolver.DetectHostCaps(cfg.Tools.YtDlp, cfg.Tools.AltExtractor, cfg.Tools.Python, cfg.Tools.Proxy)
	if caps.Binary == "" && caps.Python == "" {
		log.Warn("no extraction tool found on PATH; downloads will fail", "ytdlp", cfg.Tools.YtDlp, "python", cfg.Tools.Python)
	}
	executor := downloader.ExecExecutor{}
	bus := events.NewBus(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := queue.NewPool(queue.Config{
		Workers:     cfg.Worker.Count,
		DownloadDir: cfg.Storage.DownloadDir,
		FFmpegPath:  cfg.Tools.FFmpeg,
		Caps:        caps,
	}, executor, bus, store, log.With("component", "pool"))
	if err := pool.Start(ctx); err != nil {
		fatal(log, "pool start", err)
	}

	batches := archive.NewManager(archive.Config{
		Dir:      cfg.Storage.ArchiveDir,
		MaxItems: cfg.Worker.MaxBatchItems,
	}, pool, log.With("component", "archive"))
	if err := batches.Start(ctx); err != nil {
		fatal(log, "archive start", err)
	}

	janitor := &queue.Janitor{
		Retention: cfg.Storage.Retention,
		Targets:   []queue.Evicter{pool, batches, cache},
		Store:     store,
		Logger:    log.With("component", "janitor"),
	}
	go janitor.Start(ctx)

	page := probe.NewPageProber()
	page.UserAgent = "Mozilla/5.0 (compatible; mediaq/" + versionString() + ")"
	lister := &formats.Lister{
		Prober: formats.Chain{
			&downloader.Tool{Caps: caps, Executor: executor},
			probe.NewYouTubeProber(),
			page,
		},
		Cache:  cache,
		Logger: log.With("component", "formats"),
	}

	keys := credentials.NewPool(cfg.Listing.APIKeys)
	keys.Logger = log.With("component", "credentials")
	if keys.Size() == 0 {
		log.Warn("no listing API keys configured; playlist listing is disabled")
	}

	server := &api.Server{
		Jobs:           pool,
		History:        store,
		Batches:        batches,
		Qualities:      lister,
		Playlists:      listing.NewClient(cfg.Listing.BaseURL, keys),
		Events:         bus,
		AllowedOrigins: cfg.HTTPServer.AllowedOrigins,
		Logger:         log.With("component", "http"),
	}
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.HTTPServer.ReadTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}
	ln, err := net.Listen("tcp", cfg.HTTPServer.Address)
	if err != nil {
		fatal(log, "listen", err)
	}
	log.Info("mediaqd listening", "addr", cfg.HTTPServer.Address, "workers", pool.Workers())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve", "err", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	pool.Stop()
	batches.Stop()
	log.Info("mediaqd stopped")
}

func fatal(log *slog.Logger, what string, err error) {
	log.Error(what+" failed", "err", err)
	os.Exit(1)
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}
