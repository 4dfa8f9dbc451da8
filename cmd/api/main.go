package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"insight-call-flow/internal/audit"
	"insight-call-flow/internal/auth"
	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/callsync"
	"insight-call-flow/internal/config"
	"insight-call-flow/internal/httpapi"
	"insight-call-flow/internal/metrics"
	"insight-call-flow/internal/rbac"
	"insight-call-flow/internal/reporting"
	"insight-call-flow/internal/scoring"
	"insight-call-flow/internal/storage"
	"insight-call-flow/internal/telegram"
	"insight-call-flow/internal/telephony"
	"insight-call-flow/internal/transcription"
	"insight-call-flow/pkg/logger"
	"insight-call-flow/pkg/utils"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// release is set at build time via -ldflags.
var release = "dev"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real environments inject variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	sentryOn, err := logger.InitSentry(cfg.Sentry.DSN, cfg.App.Env, release)
	if err != nil {
		log.Warn("sentry init failed", "err", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth, rbac.Known)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	dsn := cfg.DB.SQLitePath
	if cfg.DB.Driver == "postgres" {
		dsn = cfg.PostgresDSN()
	}
	db, sqlDB, err := utils.OpenGorm(rootCtx, utils.GormConfig{Driver: cfg.DB.Driver, DSN: dsn, Debug: cfg.App.Env == "local"})
	if err != nil {
		log.Error("database init failed", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	objects, localDir, err := openObjectStore(rootCtx, cfg.Storage)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	// Stores
	callStore := calls.NewGormStore(db)
	conns := telephony.NewConnectionStore(db)
	records := callsync.NewStore(db)
	linker := telegram.NewLinker(db, cfg.Telegram.SessionTTL)
	auditRepo := audit.NewGormRepo(db)
	if err := migrate(rootCtx, callStore, conns, records, linker, auditRepo); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	auditSvc := audit.NewService(auditRepo)
	bot := telegram.NewBot(cfg.Telegram, nil)

	// Call processing
	listeners := []calls.Listener{m, auditSvc}
	if cfg.Telegram.BotToken != "" {
		listeners = append(listeners, telegram.NewNotifier(linker, bot))
	}
	processor := calls.NewProcessor(
		callStore,
		transcription.NewClient(cfg.Transcription, nil),
		scoring.NewHeuristic(),
		listeners...,
	)
	dispatcher := calls.NewDispatcher(processor, cfg.Processing.Workers, cfg.Processing.Timeout)

	// Telfin
	tokens := telephony.NewTokenManager(conns, cfg.Telfin.OAuthURL, nil)
	provider := telephony.NewTelfinProvider(tokens, telephony.NewClient(cfg.Telfin, nil), cfg.Phone.DefaultRegion)
	materializer := callsync.NewMaterializer(records, conns, provider, objects, callStore, dispatcher, cfg.Sync.Workers)
	materializer.SetObserver(m)
	syncSvc := callsync.NewService(conns, provider, records, materializer, callsync.NewRedisLocker(rdb, 0), cfg.Sync.Lookback)

	scheduler, err := callsync.NewScheduler(cfg.Sync.Schedule, conns, syncSvc, cfg.Sync.Lookback, log)
	if err != nil {
		log.Error("sync scheduler init failed", "err", err, "schedule", cfg.Sync.Schedule)
		os.Exit(1)
	}

	h := httpapi.New(httpapi.Handlers{
		Auth:         authManager,
		Calls:        calls.NewService(callStore, objects, dispatcher),
		Connections:  conns,
		Tokens:       tokens,
		Sync:         syncSvc,
		Materializer: materializer,
		Linker:       linker,
		Bot:          bot,
		Reports:      reporting.NewService(reporting.NewGormRepo(db, records)),
		Audit:        auditSvc,
		DevLogin:     !cfg.IsProduction(),
		Ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, sqlDB, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})
	webhook := telegram.NewWebhookHandler(linker, bot, cfg.Telegram.WebhookSecret, m, auditSvc)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	if sentryOn {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, routeDeps{
		handlers: h,
		authMW:   auth.RequireAccessToken(authManager),
		webhook:  webhook,
		metrics:  m,
		localDir: localDir,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	scheduler.Start()
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "sync_schedule", cfg.Sync.Schedule)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("sync scheduler stop timed out", "err", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn("call processing still running at shutdown", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func migrate(ctx context.Context, ms ...migrator) error {
	for _, m := range ms {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// openObjectStore picks S3 when a bucket is configured, otherwise a local
// directory served under /files. localDir is empty for S3.
func openObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, string, error) {
	if cfg.Bucket != "" {
		s, err := storage.NewS3Store(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return s, "", nil
	}
	s, err := storage.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("local storage: %w", err)
	}
	return s, cfg.LocalDir, nil
}
