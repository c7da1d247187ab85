package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/batchkit/batchkit/internal/auth"
	"github.com/batchkit/batchkit/internal/config"
	"github.com/batchkit/batchkit/internal/export"
	"github.com/batchkit/batchkit/internal/storage"
)

func newExportHandler(t *testing.T, store storage.ObjectStore) http.Handler {
	t.Helper()
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	exporter, err := export.New(store, export.Options{
		Prefix: cfg.Export.Prefix,
		Now:    func() time.Time { return time.Date(2026, time.April, 2, 8, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("export.New() error = %v", err)
	}
	return NewHandler(cfg, Dependencies{Registry: newTestRegistry(t), Exporter: exporter})
}

func TestExportBatchLifecycle(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{}}
	h := newExportHandler(t, store)
	key := "exports/files/events/20260402T083000.000000000Z.parquet"

	rr := serve(h, http.MethodPost, "/v1/datasources/files/exports", `{"data_asset_name":"events"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("export status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["key"] != key || body["row_count"] != float64(3) || body["content_type"] != export.ContentType {
		t.Fatalf("export body = %v", body)
	}
	if _, ok := store.objects[key]; !ok {
		t.Fatalf("object %q not written", key)
	}
	if size := body["size"].(float64); size != float64(len(store.objects[key])) {
		t.Fatalf("size = %v, stored %d bytes", size, len(store.objects[key]))
	}

	rr = serve(h, http.MethodGet, "/v1/exports", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if items := decodeBody(t, rr)["exports"].([]any); len(items) != 1 || items[0].(map[string]any)["key"] != key {
		t.Fatalf("exports = %v", items)
	}
	rr = serve(h, http.MethodGet, "/v1/exports?datasource=local", "")
	if items := decodeBody(t, rr)["exports"].([]any); len(items) != 0 {
		t.Fatalf("local exports = %v", items)
	}

	rr = serve(h, http.MethodGet, "/v1/exports/"+key, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stat status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["key"] != key {
		t.Fatalf("stat body = %v", body)
	}

	rr = serve(h, http.MethodDelete, "/v1/exports/"+key, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if _, ok := store.objects[key]; ok {
		t.Fatal("object still present after delete")
	}

	rr = serve(h, http.MethodGet, "/v1/exports/"+key, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("stat after delete status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "EXPORT_NOT_FOUND" {
		t.Fatalf("body = %v", body)
	}
	rr = serve(h, http.MethodDelete, "/v1/exports/"+key, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing status = %d", rr.Code)
	}
}

func TestExportBatchErrors(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{"landing/events.parquet": []byte("x")}}
	h := newExportHandler(t, store)

	rr := serve(h, http.MethodGet, "/v1/exports/landing/events.parquet", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("outside prefix status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "INVALID_EXPORT_KEY" {
		t.Fatalf("body = %v", body)
	}
	rr = serve(h, http.MethodDelete, "/v1/exports/landing/events.parquet", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("delete outside prefix status = %d", rr.Code)
	}
	if _, ok := store.objects["landing/events.parquet"]; !ok {
		t.Fatal("object outside the export prefix was deleted")
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/exports", `{"batch_kwargs":{"path":"/nowhere/x.csv"}}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing source status = %d, body=%s", rr.Code, rr.Body.String())
	}

	store.putErr = io.ErrUnexpectedEOF
	rr = serve(h, http.MethodPost, "/v1/datasources/files/exports", `{"data_asset_name":"events"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("store failure status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "EXPORT_FAILED" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestExportRoutesRequireObjectStore(t *testing.T) {
	h := newTestHandler(t)
	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/v1/datasources/files/exports", `{"data_asset_name":"events"}`},
		{http.MethodGet, "/v1/exports", ""},
		{http.MethodGet, "/v1/exports/exports/files/events/a.parquet", ""},
		{http.MethodDelete, "/v1/exports/exports/files/events/a.parquet", ""},
	} {
		rr := serve(h, tc.method, tc.target, tc.body)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s %s status = %d", tc.method, tc.target, rr.Code)
		}
		if body := decodeBody(t, rr); body["error_code"] != "EXPORTS_NOT_CONFIGURED" {
			t.Fatalf("body = %v", body)
		}
	}
}

func TestExportRoutesRequireExporterRole(t *testing.T) {
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{
		"BATCHKIT_AUTH_REQUIRED":    "true",
		"BATCHKIT_AUTH_STATIC_KEYS": "reader:ops:batch_reader,writer:etl:batch_exporter",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	store := &fakeObjectStore{objects: map[string][]byte{}}
	exporter, err := export.New(store, export.Options{Prefix: cfg.Export.Prefix})
	if err != nil {
		t.Fatalf("export.New() error = %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Registry:       newTestRegistry(t),
		Exporter:       exporter,
	})

	send := func(method, target, body, apiKey string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("X-API-Key", apiKey)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(http.MethodPost, "/v1/datasources/files/exports", `{"data_asset_name":"events"}`, "reader"); rr.Code != http.StatusForbidden {
		t.Fatalf("reader export status = %d", rr.Code)
	}
	rr := send(http.MethodPost, "/v1/datasources/files/exports", `{"data_asset_name":"events"}`, "writer")
	if rr.Code != http.StatusCreated {
		t.Fatalf("writer export status = %d, body=%s", rr.Code, rr.Body.String())
	}
	key := decodeBody(t, rr)["key"].(string)

	if rr := send(http.MethodGet, "/v1/exports/"+key, "", "reader"); rr.Code != http.StatusOK {
		t.Fatalf("reader stat status = %d", rr.Code)
	}
	if rr := send(http.MethodDelete, "/v1/exports/"+key, "", "reader"); rr.Code != http.StatusForbidden {
		t.Fatalf("reader delete status = %d", rr.Code)
	}
	if rr := send(http.MethodDelete, "/v1/exports/"+key, "", "writer"); rr.Code != http.StatusOK {
		t.Fatalf("writer delete status = %d", rr.Code)
	}
}

type fakeObjectStore struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if f.putErr != nil {
		return storage.ObjectInfo{}, f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ETag: "etag-1"}, nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}
