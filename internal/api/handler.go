package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/batchkit/batchkit/internal/config"
	"github.com/batchkit/batchkit/internal/datasource"
	"github.com/batchkit/batchkit/internal/observability"
)

type ReadinessCheck func(ctx context.Context) error

// DatasourceRegistry is the lookup the datasource routes serve from.
type DatasourceRegistry interface {
	Get(name string) (datasource.Datasource, error)
	Names() []string
}

type Dependencies struct {
	Logger           *slog.Logger
	Readiness        ReadinessCheck
	AuthMiddleware   func(http.Handler) http.Handler
	DependencyTimout time.Duration
	Registry         DatasourceRegistry
	// HeadRows bounds the rows returned with a loaded batch.
	HeadRows int
	// Exporter is nil when no object store is configured.
	Exporter BatchExporter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.HeadRows <= 0 {
		deps.HeadRows = cfg.Context.HeadRows
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protectedRoutes := map[string]http.HandlerFunc{
		"GET /v1/datasources": func(w http.ResponseWriter, r *http.Request) {
			handleListDatasources(deps, w, r)
		},
		"GET /v1/datasources/{datasource}/assets": func(w http.ResponseWriter, r *http.Request) {
			handleListAssets(deps, w, r)
		},
		"POST /v1/datasources/{datasource}/batch-kwargs": func(w http.ResponseWriter, r *http.Request) {
			handleBuildBatchKwargs(deps, w, r)
		},
		"POST /v1/datasources/{datasource}/batches": func(w http.ResponseWriter, r *http.Request) {
			handleGetBatch(deps, w, r)
		},
		"POST /v1/datasources/{datasource}/validate": func(w http.ResponseWriter, r *http.Request) {
			handleValidate(deps, w, r)
		},
		"POST /v1/datasources/{datasource}/exports": func(w http.ResponseWriter, r *http.Request) {
			handleExportBatch(deps, w, r)
		},
		"GET /v1/exports": func(w http.ResponseWriter, r *http.Request) {
			handleListExports(deps, w, r)
		},
		"GET /v1/exports/{key...}": func(w http.ResponseWriter, r *http.Request) {
			handleGetExport(deps, w, r)
		},
		"DELETE /v1/exports/{key...}": func(w http.ResponseWriter, r *http.Request) {
			handleDeleteExport(deps, w, r)
		},
	}
	for pattern, handler := range protectedRoutes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range protectedRoutes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckRegistry reports not ready until the context file produced at least
// one datasource.
func CheckRegistry(registry DatasourceRegistry) ReadinessCheck {
	return func(_ context.Context) error {
		if registry == nil {
			return errors.New("datasource registry is not configured")
		}
		if len(registry.Names()) == 0 {
			return errors.New("no datasources are configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
