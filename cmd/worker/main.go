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

	"github.com/geocoder89/aegisapi/internal/config"
	"github.com/geocoder89/aegisapi/internal/db"
	"github.com/geocoder89/aegisapi/internal/maintenance"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "aegisapi-worker", cfg.Env, cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	blobs, err := storage.Open(ctx, cfg.StorageDriver, cfg.LocalStorageDir, storage.S3Config{
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	store := postgres.NewStore(pool, prom)

	sched := maintenance.NewScheduler(maintenance.Config{}, log, prom)
	jobs := []maintenance.Job{
		maintenance.PurgeRefreshTokens(cfg.CleanupSpec, store.RefreshTokens(), 24*time.Hour, nil),
		maintenance.PurgeAuthTokens(cfg.CleanupSpec, store.AuthTokens(), 24*time.Hour, nil),
		maintenance.CleanupFiles(cfg.CleanupSpec, store.Files(), blobs, cfg.FileRetention, 200, nil),
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			return err
		}
	}

	health := maintenance.NewHealthServer(sched, pool)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", health.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker health server starting", "port", cfg.WorkerHealthPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
			stop()
		}
	}()

	sched.Start()
	log.Info("worker has started", "spec", cfg.CleanupSpec)

	<-ctx.Done()
	log.Info("worker shutting down")
	health.MarkShuttingDown()

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := sched.Stop(sctx); err != nil {
		log.Error("maintenance jobs did not stop in time", "err", err)
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}

	log.Info("worker shutdown complete")
	return nil
}
