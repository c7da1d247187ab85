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

	"github.com/batchkit/batchkit/internal/api"
	"github.com/batchkit/batchkit/internal/auth"
	"github.com/batchkit/batchkit/internal/config"
	"github.com/batchkit/batchkit/internal/datasource"
	"github.com/batchkit/batchkit/internal/export"
	"github.com/batchkit/batchkit/internal/observability"
	"github.com/batchkit/batchkit/internal/storage"
	s3store "github.com/batchkit/batchkit/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("batchkit-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var objectStore storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		objectStore, err = s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
	}

	registry, err := datasource.LoadRegistry(context.Background(), cfg.ContextFilePath(), datasource.Options{
		DefaultBaseDirectory: cfg.Context.DefaultBaseDirectory,
		Store:                objectStore,
		SQL: datasource.DBConfig{
			MaxOpenConns:    cfg.SQL.MaxOpenConns,
			MaxIdleConns:    cfg.SQL.MaxIdleConns,
			ConnMaxIdleTime: cfg.SQL.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
		},
		QueryTimeout: cfg.SQL.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to load datasources", slog.String("context_file", cfg.ContextFilePath()), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()

	deps := api.Dependencies{
		Logger:   logger,
		Registry: registry,
		HeadRows: cfg.Context.HeadRows,
		Readiness: api.CombineReadinessChecks(
			api.CheckRegistry(registry),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimout: time.Second,
	}
	if objectStore != nil {
		exporter, err := export.New(objectStore, export.Options{Prefix: cfg.Export.Prefix, Logger: logger})
		if err != nil {
			logger.Error("failed to initialize batch exports", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = exporter
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Any("datasources", registry.Names()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
