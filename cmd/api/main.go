package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"newsroom/api/internal/app"
	"newsroom/api/internal/archive"
	"newsroom/api/internal/auth"
	"newsroom/api/internal/collab"
	"newsroom/api/internal/config"
	"newsroom/api/internal/gitrepo"
	"newsroom/api/internal/injector"
	"newsroom/api/internal/metrics"
	"newsroom/api/internal/notify"
	"newsroom/api/internal/presence"
	"newsroom/api/internal/repository"
	"newsroom/api/internal/search"
	"newsroom/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	ctx := context.Background()

	openCtx, cancelOpen := context.WithTimeout(ctx, 30*time.Second)
	db, err := store.Open(openCtx, cfg.DatabaseURL, logger)
	cancelOpen()
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create repos dir")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, logger)

	var snapshots archive.Archiver
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		minioArchive, err := archive.NewMinIO(ctx, archive.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("minio connection failed")
		}
		snapshots = minioArchive
	} else {
		logger.Info().Msg("MINIO_ENDPOINT not set, keeping replica snapshots in memory")
		snapshots = archive.NewMemory()
	}

	notifier := notify.Discard
	var inbox app.Inbox
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisNotifier, err := notify.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisNotifier.Close()
		notifier = redisNotifier
		inbox = redisNotifier
	}

	collector := metrics.New()
	repo := repository.New(store.NewPostgresStore(db), logger,
		repository.WithHistory(gitrepo.New(cfg.ReposDir)),
		repository.WithIndex(searchService),
		repository.WithArchive(snapshots),
	)

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret))
	inj := injector.New(logger, injector.Config{
		OpenTimeout: cfg.CollabOpenTimeout,
		Notifier:    notifier,
		Metrics:     collector,
	})
	collabServer := collab.New(repo, logger, collab.Config{
		Debounce: cfg.CollabDebounce,
		MaxWait:  cfg.CollabMaxWait,
		Verifier: verifier,
		Presence: presence.NewRegistry(),
		Metrics:  collector,
		OnError:  injector.Chain(logger, injector.LogHook(logger), inj.Handle),
	})
	collabServer.SetCheckOrigin(originChecker(cfg.CORSOrigin))
	inj.Attach(collabServer)

	httpServer := app.NewHTTPServer(app.Deps{
		Documents:  repo,
		Collab:     collabServer,
		Search:     searchService,
		Inbox:      inbox,
		Verifier:   verifier,
		Metrics:    collector,
		Logger:     logger,
		CORSOrigin: cfg.CORSOrigin,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("newsroom API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	// Pending edits are flushed before the database closes.
	collabServer.Close()
	logger.Info().Msg("stopped")
}

func originChecker(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowed == "" || allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || origin == allowed
	}
}
