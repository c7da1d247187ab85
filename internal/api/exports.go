package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/batchkit/batchkit/internal/auth"
	"github.com/batchkit/batchkit/internal/export"
	"github.com/batchkit/batchkit/internal/frame"
	"github.com/batchkit/batchkit/internal/storage"
)

// BatchExporter persists loaded batches to the object store.
type BatchExporter interface {
	Export(ctx context.Context, datasourceName, dataAssetName string, f *frame.Frame) (storage.ObjectInfo, error)
	List(ctx context.Context, datasourceName string) ([]storage.ObjectInfo, error)
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

func handleExportBatch(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExporter(deps, w, r) {
		return
	}
	ds, ok := lookupDatasource(deps, w, r, auth.RoleBatchExporter)
	if !ok {
		return
	}
	var request batchRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	batch, ok := loadBatch(deps, w, r, ds, request, nil)
	if !ok {
		return
	}

	f := batch.Frame()
	info, err := deps.Exporter.Export(r.Context(), ds.Name(), batch.DataAssetName(), f)
	if err != nil {
		writeExportError(r.Context(), w, err)
		return
	}
	payload := exportJSON(info)
	payload["datasource"] = ds.Name()
	payload["data_asset_name"] = batch.DataAssetName()
	payload["batch_kwargs"] = batch.BatchKwargs()
	payload["columns"] = f.Columns()
	payload["row_count"] = f.NumRows()
	payload["content_type"] = export.ContentType
	writeJSON(w, http.StatusCreated, payload)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExporter(deps, w, r) {
		return
	}
	if err := requireAnyRole(r, auth.RoleBatchReader, auth.RoleBatchValidator, auth.RoleBatchExporter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	objects, err := deps.Exporter.List(r.Context(), r.URL.Query().Get("datasource"))
	if err != nil {
		writeExportError(r.Context(), w, err)
		return
	}
	items := make([]map[string]any, 0, len(objects))
	for _, object := range objects {
		items = append(items, exportJSON(object))
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": items})
}

func handleGetExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExporter(deps, w, r) {
		return
	}
	if err := requireAnyRole(r, auth.RoleBatchReader, auth.RoleBatchValidator, auth.RoleBatchExporter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	info, err := deps.Exporter.Stat(r.Context(), r.PathValue("key"))
	if err != nil {
		writeExportError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportJSON(info))
}

func handleDeleteExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExporter(deps, w, r) {
		return
	}
	if err := requireAnyRole(r, auth.RoleBatchExporter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	key := r.PathValue("key")
	if err := deps.Exporter.Delete(r.Context(), key); err != nil {
		writeExportError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": true})
}

func requireExporter(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "batch exports require an object store", false, nil)
		return false
	}
	return true
}

func exportJSON(info storage.ObjectInfo) map[string]any {
	payload := map[string]any{
		"key":  info.Key,
		"size": info.Size,
	}
	if info.ETag != "" {
		payload["etag"] = info.ETag
	}
	if !info.LastModified.IsZero() {
		payload["last_modified"] = info.LastModified.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func writeExportError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, export.ErrInvalidKey):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_EXPORT_KEY", err.Error(), false, nil)
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "EXPORT_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "EXPORT_TIMEOUT", "export timed out", true, map[string]any{"details": err.Error()})
	default:
		writeError(ctx, w, http.StatusBadGateway, "EXPORT_FAILED", "object store export failed", true, map[string]any{"details": err.Error()})
	}
}
