// Command bot runs the Instagram backup bot: the Telegram front end, the
// queue scheduler with its processor workers, the status message updater,
// and the ops HTTP server (health, metrics, activity API).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obervinov/instabot-downloader/internal/config"
	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/downloader"
	httpapi "github.com/obervinov/instabot-downloader/internal/http"
	"github.com/obervinov/instabot-downloader/internal/metrics"
	"github.com/obervinov/instabot-downloader/internal/observability"
	"github.com/obervinov/instabot-downloader/internal/repo"
	"github.com/obervinov/instabot-downloader/internal/scheduler"
	"github.com/obervinov/instabot-downloader/internal/services"
	"github.com/obervinov/instabot-downloader/internal/telegram"
	"github.com/obervinov/instabot-downloader/internal/uploader"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("opentelemetry setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("opentelemetry shutdown failed")
		}
	}()

	db, err := repo.Open(cfg.DBPath, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := repo.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("database tracing setup failed")
		}
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.TempDir).Msg("staging directory unavailable")
	}

	// Collaborators.
	igClient := downloader.New(cfg.Instagram, cfg.TempDir, log.With().Str("component", "instagram").Logger())
	davClient := uploader.New(cfg.WebDav, log.With().Str("component", "webdav").Logger())
	if err := davClient.Ping(); err != nil {
		log.Fatal().Err(err).Msg("webdav storage unavailable")
	}

	// Services.
	queueSvc := services.NewQueueService(db, cfg.RateLimit, domain.UserStatus(cfg.Telegram.DefaultUserStatus))
	updater := telegram.NewStatusUpdater(db, queueSvc, nil,
		log.With().Str("component", "status_updater").Logger(), cfg.Telegram.StatusUpdateInterval)

	bot, err := telegram.New(cfg.Telegram.Token, queueSvc, updater,
		log.With().Str("component", "telegram").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("telegram bot setup failed")
	}
	updater.Messenger = &telegram.BotMessenger{Bot: bot.Raw(), Log: log.Logger}

	processor := services.NewProcessor(db, igClient, davClient, queueSvc,
		log.With().Str("component", "processor").Logger(),
		cfg.TempDir, cfg.Scheduler.MaxAttempts, cfg.Scheduler.RetryBaseDelay)
	processor.Notifier = updater

	sched := scheduler.New(db, processor,
		log.With().Str("component", "scheduler").Logger(),
		cfg.Scheduler.PollInterval, cfg.Scheduler.BatchLimit, cfg.Scheduler.Workers)
	sched.Observer = metrics.SchedulerObserver{}

	poller := &metrics.Poller{
		DB:       db,
		Log:      log.With().Str("component", "metrics").Logger(),
		Interval: 15 * time.Second,
	}

	// Ops HTTP server.
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, db, queueSvc, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler exited")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := updater.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("status updater exited")
		}
	}()
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("metrics poller exited")
		}
	}()
	go func() {
		defer wg.Done()
		bot.Start(ctx)
	}()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown failed")
	}
	wg.Wait()
	log.Info().Msg("bye")
}

// setupLogger configures the global zerolog logger from configuration.
func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.Logger.With().Str("service", cfg.OTEL.ServiceName).Str("version", version).Logger()
}
