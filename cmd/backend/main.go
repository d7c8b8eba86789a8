package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contract-diff/internal/config"
	"contract-diff/internal/db"
	"contract-diff/internal/logging"
	"contract-diff/internal/server"
	"contract-diff/internal/storage"
)

func main() {
	if err := run(); err != nil {
		logging.Error("backend exited", logging.Fields{"service": "backend"}, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat, cfg.Env)

	ctx := context.Background()

	pool, err := db.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	logging.Info("running migrations", nil)
	if err := db.RunMigrations(pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	store, err := newStorage(cfg)
	if err != nil {
		return err
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	records := db.NewGuardedRecords(
		db.NewPostgresRecords(pool),
		db.NewCircuitBreaker(5, 30*time.Second),
	)

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		Build:          cfg.Build,
		Store:          store,
		Records:        records,
		DB:             pool,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimit,
	})

	// Serve in the background so we can wait for signals.
	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting", logging.Fields{
			"addr":    cfg.Addr,
			"storage": store.Name(),
			"version": cfg.Build.Version,
			"commit":  cfg.Build.Commit,
		})
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("shutting down", logging.Fields{"signal": sig.String()})
		// Give in-flight uploads a moment to finish.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logging.Info("shutdown complete", nil)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}

// newStorage picks the file backend named by the configuration.
func newStorage(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendLocal, "":
		return storage.NewLocal(cfg.StorageDir, cfg.MaxUploadBytes), nil
	case config.BackendMinio:
		m, err := storage.NewMinio(cfg.S3, cfg.MaxUploadBytes)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
