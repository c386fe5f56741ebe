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

	"github.com/geocoder89/aegisapi/internal/auth"
	"github.com/geocoder89/aegisapi/internal/config"
	"github.com/geocoder89/aegisapi/internal/db"
	"github.com/geocoder89/aegisapi/internal/filecrypt"
	httpx "github.com/geocoder89/aegisapi/internal/http"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/geocoder89/aegisapi/internal/notifications"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/ratelimit"
	"github.com/geocoder89/aegisapi/internal/redisclient"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/geocoder89/aegisapi/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "aegisapi"

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.Env, cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	// encryption key is checked before anything touches the network
	crypt, err := filecrypt.New(cfg.FileEncryptionKey)
	if err != nil {
		return fmt.Errorf("FILE_ENCRYPTION_KEY: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	if err := db.EnsureAdminUser(ctx, pool, cfg); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	blobs, err := storage.Open(ctx, cfg.StorageDriver, cfg.LocalStorageDir, blobStoreConfig(cfg))
	if err != nil {
		return err
	}

	pingers := map[string]handlers.Pinger{"postgres": pool}

	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if rdb := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}); rdb != nil {
		defer rdb.Close()
		limiterStore = ratelimit.NewRedisStore(rdb.Raw())
		pingers["redis"] = rdb
		log.Info("rate limiting backed by redis", "addr", cfg.RedisAddr)
	} else {
		go sweepMemoryStore(ctx, limiterStore.(*ratelimit.MemoryStore))
	}

	store := postgres.NewStore(pool, prom)
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.RefreshTTL())

	notifier := notifications.NewProtectedNotifier(notifications.NewLogNotifier(log), notifications.ProtectedNotifierConfig{})

	authSvc := services.NewAuthService(services.AuthDeps{
		Users:         store.Users(),
		RefreshTokens: store.RefreshTokens(),
		AuthTokens:    store.AuthTokens(),
		Tx:            services.PostgresTransactor{Store: store},
		JWT:           jwtManager,
		Notifier:      notifier,
		Prom:          prom,
		Log:           log,
	}, services.AuthConfig{
		MaxLoginAttempts: cfg.MaxLoginAttempts,
		LockoutDuration:  cfg.LockoutDuration,
	})

	fileSvc := services.NewFileService(store.Files(), blobs, crypt, prom, log, cfg.MaxUploadBytes)

	resources, err := httpx.CatalogueResources(pool, prom)
	if err != nil {
		return err
	}

	if err := handlers.RegisterValidators(); err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterDeps{
		Log:           log,
		Prom:          prom,
		Gatherer:      reg,
		ServiceName:   serviceName,
		Production:    cfg.IsProduction(),
		CORSOrigins:   cfg.CORSOrigins,
		Verifier:      jwtManager,
		Limiter:       ratelimit.New(limiterStore),
		Auth:          handlers.NewAuthHandler(authSvc, cfg.IsProduction(), cfg.RefreshTTL()),
		Users:         handlers.NewUsersHandler(authSvc),
		Files:         handlers.NewFilesHandler(fileSvc, cfg.MaxUploadBytes),
		MaxUploadSize: cfg.MaxUploadBytes,
		Resources:     resources,
		Pingers:       pingers,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info("server shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func blobStoreConfig(cfg config.Config) storage.S3Config {
	return storage.S3Config{
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	}
}

func sweepMemoryStore(ctx context.Context, s *ratelimit.MemoryStore) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}
