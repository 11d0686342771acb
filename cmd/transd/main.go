// transd is the PHP localization translation server.
// It accepts language-pack uploads over HTTP, translates the message
// strings from English to Brazilian Portuguese through a chain of free
// providers, validates the result, and packages the output.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fcs7/translate-php-tool/internal/api"
	"github.com/fcs7/translate-php-tool/internal/cache"
	"github.com/fcs7/translate-php-tool/internal/config"
	"github.com/fcs7/translate-php-tool/internal/engine"
	"github.com/fcs7/translate-php-tool/internal/events"
	"github.com/fcs7/translate-php-tool/internal/janitor"
	"github.com/fcs7/translate-php-tool/internal/job"
	"github.com/fcs7/translate-php-tool/internal/postgres"
	"github.com/fcs7/translate-php-tool/internal/provider"
	"github.com/fcs7/translate-php-tool/internal/storage"
)

// validateEnv checks that critical environment variables have valid values.
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("TRANS_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("TRANS_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if _, err := url.Parse(dbURL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
		}
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		// S3_ENDPOINT may be host:port without scheme; allow that.
		if _, _, err := net.SplitHostPort(v); err != nil {
			if _, err := url.Parse("http://" + v); err != nil {
				errs = append(errs, fmt.Sprintf("S3_ENDPOINT=%q: must be a valid endpoint", v))
			}
		}
	}
	return errs
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /transd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(api.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Postgres is optional: without DATABASE_URL the cache is memory-only
	// and job state does not survive restarts.
	var (
		pool       *pgxpool.Pool
		cacheStore cache.Store
		jobStore   job.Store
	)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err = postgres.NewPool(ctx, dbURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		cacheStore = postgres.NewCacheStore(pool)
		jobStore = postgres.NewJobStore(pool)
		slog.Info("postgres connected, persistent cache enabled")
	} else {
		slog.Warn("DATABASE_URL not set, running with in-memory cache only")
	}

	// S3/MinIO artifact mirroring is also optional.
	var s3Store *storage.S3Store
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		s3Store, err = storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    envOr("S3_BUCKET", "transd-artifacts"),
			UseSSL:    os.Getenv("S3_USE_SSL") == "true",
		})
		if err != nil {
			slog.Error("failed to connect to s3", "error", err)
			os.Exit(1)
		}
		slog.Info("s3 artifact mirroring enabled", "endpoint", endpoint)
	}

	providers := []provider.Translator{
		provider.NewGoogleFree(cfg.Providers.GoogleRPM),
		provider.NewDeepL(cfg.Providers.DeepLAPIKey, cfg.Providers.DeepLRPM),
		provider.NewMyMemory(cfg.Providers.MyMemoryEmail, cfg.Providers.MyMemoryRPM),
		provider.NewShell(cfg.Providers.ShellRPM),
	}
	for _, p := range providers {
		slog.Info("provider registered", "name", p.Name(), "available", p.IsAvailable())
	}

	translationCache := cache.New(cfg.CacheMemorySize, cacheStore, logger)
	eng := engine.New(translationCache, providers, logger)
	eng.WarmUp(ctx)

	registry := job.NewRegistry(cfg.MaxConcurrentJobs, jobStore, logger)
	hub := events.NewHub()

	// *storage.S3Store is nil-able; an untyped nil interface keeps the
	// runner's nil checks honest.
	var artifacts job.ArtifactStore
	if s3Store != nil {
		artifacts = s3Store
	}
	runner := job.NewRunner(eng, registry, hub, artifacts, cfg.BatchSize, cfg.MaxParallelFiles, logger)

	jan, err := janitor.New(registry, artifacts, cfg.CleanupSchedule, time.Duration(cfg.JobMaxAgeHours)*time.Hour, logger)
	if err != nil {
		slog.Error("invalid cleanup schedule", "schedule", cfg.CleanupSchedule, "error", err)
		os.Exit(1)
	}
	jan.Start(ctx)

	srv := &api.Server{
		Registry:  registry,
		Runner:    runner,
		Engine:    eng,
		Hub:       hub,
		Config:    cfg,
		Artifacts: artifacts,
	}
	if pool != nil {
		srv.DBHealth = postgres.NewHealthChecker(pool)
	}
	if s3Store != nil {
		srv.S3Health = s3Store
	}
	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}

	// Per-IP upload spacing (disable with UPLOAD_RATE_LIMIT=0).
	if os.Getenv("UPLOAD_RATE_LIMIT") != "0" {
		srv.Uploads = api.NewUploadLimiter(api.DefaultUploadInterval)
		slog.Info("upload rate limiting enabled", "min_interval", api.DefaultUploadInterval.String())
	}

	router := api.NewRouter(srv)

	// Listen address: TRANS_LISTEN_ADDR > PORT > default 127.0.0.1:8080.
	addr := "127.0.0.1:8080"
	if listenAddr := os.Getenv("TRANS_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE streams stay open up to MaxSSEDurationSeconds
		// and long uploads need time to drain.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting transd", "addr", addr, "version", api.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	jan.Stop()
	slog.Info("janitor stopped")

	// Flag every live job so the file workers stop at the next batch.
	for _, snap := range registry.List() {
		if j, err := registry.Get(snap.JobID); err == nil && !j.Status().Terminal() {
			j.Cancel()
		}
	}

	slog.Info("transd stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
