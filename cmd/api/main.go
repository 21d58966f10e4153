package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/audioscribe/internal/api"
	"github.com/nikhilbhutani/audioscribe/internal/api/handlers"
	"github.com/nikhilbhutani/audioscribe/internal/cache"
	"github.com/nikhilbhutani/audioscribe/internal/config"
	"github.com/nikhilbhutani/audioscribe/internal/database"
	"github.com/nikhilbhutani/audioscribe/internal/filestore"
	"github.com/nikhilbhutani/audioscribe/internal/pipeline"
	"github.com/nikhilbhutani/audioscribe/internal/storage"
	"github.com/nikhilbhutani/audioscribe/internal/transcript"
	"github.com/nikhilbhutani/audioscribe/internal/transcription"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, database.Migrations()); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	checks := map[string]handlers.Pinger{"database": db}
	var repo transcript.Repository = transcript.NewPostgresRepository(db)

	// Redis connection (optional)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		c := cache.NewCache(rdb, "audioscribe:")
		if err := c.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, reads will bypass the cache until it recovers", "error", err)
		}
		repo = transcript.NewCachedRepository(repo, c, cfg.Redis.TTL)
		checks["redis"] = c
	}

	store, err := filestore.NewStore(cfg.Upload.Dir)
	if err != nil {
		slog.Error("upload directory unusable", "dir", cfg.Upload.Dir, "error", err)
		os.Exit(1)
	}

	transcriber, err := transcription.NewAssemblyAI(transcription.AssemblyAIConfig{
		APIKey:          cfg.AssemblyAI.APIKey,
		BaseURL:         cfg.AssemblyAI.BaseURL,
		PollInterval:    cfg.AssemblyAI.PollInterval,
		MaxPollAttempts: cfg.AssemblyAI.MaxPollAttempts,
		HTTPTimeout:     cfg.AssemblyAI.HTTPTimeout,
	})
	if err != nil {
		slog.Error("transcription client", "error", err)
		os.Exit(1)
	}

	var opts []pipeline.Option
	if cfg.ArchiveEnabled() {
		sb := storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
		opts = append(opts, pipeline.WithArchiver(storage.NewAudioArchive(sb, cfg.Storage.Bucket)))
		slog.Info("audio archive enabled", "bucket", cfg.Storage.Bucket)
	}
	orch := pipeline.New(store, transcriber, repo, opts...)

	router := api.NewRouter(cfg, orch, checks)
	defer router.Close()

	// POST /transcription holds the connection for the whole provider round
	// trip, so the write deadline must outlast the poll budget. Clients that
	// need a shorter bound set their own timeout.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      cfg.PollCeiling() + 2*time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "env", cfg.Env, "poll_ceiling", cfg.PollCeiling())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// In-flight transcriptions may be mid-poll; give them the full budget.
	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PollCeiling()+30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
