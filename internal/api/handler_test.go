package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/batchkit/batchkit/internal/auth"
	"github.com/batchkit/batchkit/internal/config"
	"github.com/batchkit/batchkit/internal/datasource"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace id header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{
		"BATCHKIT_AUTH_REQUIRED":    "true",
		"BATCHKIT_AUTH_STATIC_KEYS": "k1:ops:batch_reader",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Registry:       newTestRegistry(t),
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/datasources", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/datasources", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}

	// batch_reader cannot validate.
	validateReq := httptest.NewRequest(http.MethodPost, "/v1/datasources/files/validate", nil)
	validateReq.Header.Set("X-API-Key", "k1")
	validateResp := httptest.NewRecorder()
	h.ServeHTTP(validateResp, validateReq)
	if validateResp.Code != http.StatusForbidden {
		t.Fatalf("validate status = %d", validateResp.Code)
	}
}

func TestProtectedRouteFailsClosedWithoutMiddleware(t *testing.T) {
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{
		"BATCHKIT_AUTH_REQUIRED":    "true",
		"BATCHKIT_AUTH_STATIC_KEYS": "k1:ops:batch_reader",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{Registry: newTestRegistry(t)})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/datasources", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckRegistry(t *testing.T) {
	ctx := context.Background()
	if err := CheckRegistry(nil)(ctx); err == nil {
		t.Fatal("expected error for missing registry")
	}
	empty, err := datasource.NewRegistry(ctx, nil, datasource.Options{})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if err := CheckRegistry(empty)(ctx); err == nil {
		t.Fatal("expected error for empty registry")
	}
	if err := CheckRegistry(newTestRegistry(t))(ctx); err != nil {
		t.Fatalf("CheckRegistry() error = %v", err)
	}
}

func TestCheckObjectStoreConfig(t *testing.T) {
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.ObjectStore.Endpoint = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("disabled store error = %v", err)
	}
	cfg.ObjectStore.Enabled = true
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body=%s", err, rr.Body.String())
	}
	return body
}
