package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpAdapter "trackdrop/internal/adapter/http"
	"trackdrop/internal/adapter/sqlite"
	"trackdrop/internal/adapter/telegram"
	"trackdrop/internal/arbiter"
	"trackdrop/internal/archive"
	"trackdrop/internal/catalog"
	"trackdrop/internal/config"
	"trackdrop/internal/domain"
	"trackdrop/internal/extract"
	"trackdrop/internal/upload"
	"trackdrop/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return 1
	}

	transport, err := telegram.NewTransport(cfg.BotToken, log)
	if err != nil {
		log.Error().Err(err).Msg("telegram transport failed")
		return 1
	}

	// Arbitration: lock first, then clear the push target. On contention we
	// exit before touching anything.
	arb := arbiter.New(cfg.LockPath, transport, cfg.Telegram.ConflictRetries,
		cfg.Telegram.ConflictBackoff.Duration, log)
	if err := arb.Acquire(); err != nil {
		log.Error().Err(err).Msg("another instance is active, exiting")
		return 1
	}
	defer arb.Release()

	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("job database failed")
		return 1
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := repo.MarkInterrupted(ctx); err != nil {
		log.Warn().Err(err).Msg("could not close out interrupted jobs")
	} else if n > 0 {
		log.Info().Int64("jobs", n).Msg("closed out jobs interrupted by restart")
	}

	if err := arb.PrepareConsumer(ctx); err != nil {
		log.Error().Err(err).Msg("could not prepare update consumer")
		return 1
	}

	var cat domain.Catalog
	if cfg.CatalogKey != "" {
		cat = catalog.NewClient(catalog.Options{
			BaseURL: cfg.Catalog.BaseURL,
			APIKey:  cfg.CatalogKey,
		}, log)
	} else {
		log.Info().Msg("catalog metadata disabled, no API key")
	}

	runner := extract.NewRunner(log)
	pool := worker.NewPool(worker.Deps{
		Extractor:        extract.NewChain(cfg.Strategies, cfg.SpotifyStrategies, runner, cfg.PlaylistPolicy, log),
		Archiver:         archive.NewEncryptor(log),
		Uploader:         upload.NewClient(uploadOptions(cfg), log),
		Repo:             repo,
		Messenger:        transport,
		Catalog:          cat,
		WorkDir:          cfg.WorkDir,
		Ceiling:          domain.TelegramUploadCeiling,
		ProgressInterval: cfg.Telegram.ProgressInterval.Duration,
		Log:              log,
	}, cfg.MaxConcurrentJobs)

	bot := telegram.NewBot(transport, extract.NewProber(runner, log),
		func(req domain.Request) { pool.Submit(ctx, req) }, log)

	health := httpAdapter.NewServer(repo, cfg.HealthAddr, log)
	go func() {
		log.Info().Str("addr", cfg.HealthAddr).Msg("health endpoint listening")
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- bot.Run(ctx, arb, cfg.Telegram.PollTimeout.Duration) }()

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("update consumer failed")
			exitCode = 1
		}
	}

	cancel()
	pool.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("health server shutdown error")
	}

	log.Info().Msg("shutdown complete")
	return exitCode
}

func uploadOptions(cfg *config.Config) upload.Options {
	opts := upload.DefaultOptions()
	opts.BaseURL = cfg.Upload.BaseURL
	opts.APIKey = cfg.StoreKey
	opts.Attempts = cfg.Upload.Attempts
	opts.Backoff = cfg.Upload.Backoff.Duration
	opts.MaxBackoff = cfg.Upload.MaxBackoff.Duration
	return opts
}
