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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yerniteja1/deploykit/internal/app/migrate"
	"github.com/yerniteja1/deploykit/internal/executor"
	"github.com/yerniteja1/deploykit/internal/executor/docker"
	"github.com/yerniteja1/deploykit/internal/executor/workspace"
	httpx "github.com/yerniteja1/deploykit/internal/http"
	"github.com/yerniteja1/deploykit/internal/repository"
	"github.com/yerniteja1/deploykit/internal/repository/memory"
	"github.com/yerniteja1/deploykit/internal/repository/postgres"
	"github.com/yerniteja1/deploykit/internal/service/archive"
	"github.com/yerniteja1/deploykit/internal/service/deploy"
	"github.com/yerniteja1/deploykit/internal/service/project"
	"github.com/yerniteja1/deploykit/internal/service/variable"
	"github.com/yerniteja1/deploykit/internal/ws"
	"github.com/yerniteja1/deploykit/pkg/config"
	"github.com/yerniteja1/deploykit/pkg/crypto"
	"github.com/yerniteja1/deploykit/pkg/logger"
)

func main() {
	envFile := config.GetString("ENV_FILE", ".env")
	if err := config.LoadEnvFile(envFile); err != nil {
		slog.Error("failed to load env file", "path", envFile, "error", err)
		os.Exit(1)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	exec, closeExec, err := buildExecutor(cfg, log)
	if err != nil {
		log.Error("failed to configure executor", "executor", cfg.Executor, "error", err)
		os.Exit(1)
	}
	defer closeExec()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []deploy.Option{
		deploy.WithMetrics(deploy.NewMetrics(reg)),
		deploy.WithExecutorTimeout(cfg.ExecutorTimeout),
	}
	if bucket := strings.TrimSpace(cfg.LogArchiveBucket); bucket != "" {
		archiver, err := archive.NewS3(ctx, archive.Config{
			Endpoint:        cfg.LogArchiveEndpoint,
			Region:          cfg.LogArchiveRegion,
			AccessKeyID:     cfg.LogArchiveAccessKey,
			SecretAccessKey: cfg.LogArchiveSecretKey,
			Bucket:          bucket,
			Prefix:          cfg.LogArchivePrefix,
		}, log)
		if err != nil {
			log.Warn("log archive unavailable", "error", err)
		} else {
			opts = append(opts, deploy.WithArchiver(archiver))
		}
	}
	coord := deploy.New(repo, repo, exec, log, opts...)

	if reconciler := deploy.NewReconciler(coord, repo, repo, log, cfg.ReconcileInterval, cfg.StaleAfter); reconciler != nil {
		go reconciler.Run(ctx)
	}

	box, err := crypto.NewBox(cfg.EnvEncryptionKey)
	if err != nil {
		log.Error("failed to configure variable encryption", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:        log,
		Coordinator:   coord,
		Gateway:       ws.NewGateway(coord, cfg.SSEHeartbeat, log),
		Projects:      project.New(repo, coord, log),
		Variables:     variable.New(repo, repo, box, log),
		Limiter:       limiter,
		JWTSecret:     cfg.JWTSecret,
		ClientURL:     cfg.ClientURL,
		SecureCookies: cfg.Environment == "production",
		DBHealth:      repo.Ping,
		Registry:      reg,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "executor", cfg.Executor)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := coord.Shutdown(shutdownCtx); err != nil {
			log.Error("deployments still running at shutdown", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// an in-memory store otherwise.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		return nil, nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}

func buildExecutor(cfg config.APIConfig, log *slog.Logger) (executor.Executor, func(), error) {
	switch cfg.Executor {
	case config.ExecutorPipeline:
		builder, err := docker.New(cfg.DockerHost)
		if err != nil {
			return nil, nil, err
		}
		workdir, err := workspace.New(cfg.Workdir)
		if err != nil {
			_ = builder.Close()
			return nil, nil, err
		}
		pipeline := executor.NewPipeline(workdir, builder, executor.PipelineConfig{
			GitTimeout: cfg.GitTimeout,
			Registry:   cfg.Registry,
		}, log)
		return pipeline, func() { _ = builder.Close() }, nil
	default:
		if cfg.Executor != config.ExecutorScripted {
			log.Warn("unknown executor, using scripted", "executor", cfg.Executor)
		}
		return executor.NewScripted(cfg.ScriptSpeed, cfg.DomainSuffix), func() {}, nil
	}
}
