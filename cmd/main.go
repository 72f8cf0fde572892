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

	"github.com/Dosada05/duel-tournament/brackets"
	"github.com/Dosada05/duel-tournament/config"
	"github.com/Dosada05/duel-tournament/db"
	"github.com/Dosada05/duel-tournament/distributed"
	"github.com/Dosada05/duel-tournament/handlers"
	"github.com/Dosada05/duel-tournament/judge"
	"github.com/Dosada05/duel-tournament/metrics"
	"github.com/Dosada05/duel-tournament/problems"
	"github.com/Dosada05/duel-tournament/repositories"
	api "github.com/Dosada05/duel-tournament/routes"
	"github.com/Dosada05/duel-tournament/services"
	"github.com/Dosada05/duel-tournament/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx, dbConn)
	cancelMigrate()
	if err != nil {
		logger.Error("failed to apply schema", slog.Any("error", err))
		os.Exit(1)
	}

	wsHub := brackets.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()
	logger.Info("WebSocket Hub started")

	repos := services.Repositories{
		Tx:           repositories.NewSQLTransactor(dbConn),
		Tournaments:  repositories.NewPostgresTournamentRepository(dbConn),
		Participants: repositories.NewPostgresParticipantRepository(dbConn),
		Rounds:       repositories.NewPostgresRoundRepository(dbConn),
		Matches:      repositories.NewPostgresMatchRepository(dbConn),
	}
	logger.Info("Repositories initialized")

	problemSelector, err := newProblemSelector(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize problem selector", slog.Any("error", err))
		os.Exit(1)
	}

	locker, closeLocker, err := newLocker(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize tournament locker", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLocker()

	var archiver services.ResultsArchiver
	r2Config := storage.CloudflareR2UploaderConfig{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	}
	if r2Config.Enabled() {
		uploader, err := storage.NewCloudflareR2Uploader(context.Background(), r2Config)
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = storage.NewResultsArchiver(uploader)
		logger.Info("Cloudflare R2 results archive enabled", slog.String("bucket", cfg.R2BucketName))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := services.Deps{
		Repos:    repos,
		Problems: problemSelector,
		Duels:    judge.NewClient(cfg.JudgeBaseURL, cfg.JudgeTimeout, logger),
		Locker:   locker,
		Notifier: wsHub,
		Archiver: archiver,
		Metrics:  metrics.NewRecorder(registry),
		Logger:   logger,
	}
	roundService := services.NewRoundService(deps)
	matchService := services.NewMatchService(deps)
	tournamentService := services.NewTournamentService(deps, roundService)
	logger.Info("Services initialized")

	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Tournaments: handlers.NewTournamentHandler(tournamentService, roundService, matchService, logger),
		Webhooks:    handlers.NewWebhookHandler(matchService, logger),
		WebSocket:   handlers.NewWebSocketHandler(wsHub, tournamentService, cfg.CORSAllowedOrigins, logger),
		Health:      handlers.NewHealthHandler(dbConn, logger),
	}, api.Options{
		JWTSecret:          cfg.JWTSecretKey,
		WebhookSecret:      cfg.JudgeWebhookSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:             logger,
	})
	logger.Info("Routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}

func newProblemSelector(cfg *config.Config, logger *slog.Logger) (*problems.Selector, error) {
	cached := problems.NewCachedHTTPClient(cfg.ProblemsetCacheTTL, 15*time.Second)
	if cfg.CodeforcesHandles == "" {
		return problems.NewSelector(cfg.ProblemsetURL, cached, nil, logger), nil
	}

	handles, err := problems.ParseHandles(cfg.CodeforcesHandles)
	if err != nil {
		return nil, err
	}
	// Solve history changes between rounds, so it bypasses the cache.
	lookup := problems.NewStatusLookup(cfg.ProblemsetURL, &http.Client{Timeout: 15 * time.Second}, handles)
	logger.Info("Solved-problem filtering enabled", slog.Int("handles", len(handles)))
	return problems.NewSelector(cfg.ProblemsetURL, cached, lookup, logger), nil
}

func newLocker(cfg *config.Config, logger *slog.Logger) (services.Locker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-process tournament locks")
		return services.NewKeyedMutex(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	logger.Info("Using redis tournament locks", slog.String("addr", opts.Addr), slog.Duration("ttl", cfg.LockTTL))

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", slog.Any("error", err))
		}
	}
	return distributed.NewLocker(distributed.NewRedisLockManager(client), cfg.LockTTL, logger), closeFn, nil
}
