package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/batchkit/batchkit/internal/auth"
	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/dataset"
	"github.com/batchkit/batchkit/internal/datasource"
	"github.com/batchkit/batchkit/internal/generator"
	"github.com/batchkit/batchkit/internal/storage"
)

type batchRequest struct {
	Generator     string              `json:"generator,omitempty"`
	DataAssetName string              `json:"data_asset_name"`
	PartitionID   string              `json:"partition_id,omitempty"`
	QueryParams   map[string]any      `json:"query_params,omitempty"`
	BatchKwargs   *batchkwargs.Kwargs `json:"batch_kwargs,omitempty"`
	ExtraKwargs   *batchkwargs.Kwargs `json:"extra_kwargs,omitempty"`
	Head          *int                `json:"head,omitempty"`
}

type validateRequest struct {
	batchRequest
	ExpectationSuiteName string                      `json:"expectation_suite_name,omitempty"`
	Expectations         []dataset.ExpectationConfig `json:"expectations"`
}

func handleListDatasources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASOURCES_NOT_CONFIGURED", "datasource registry is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleBatchReader, auth.RoleBatchValidator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	items := make([]map[string]any, 0)
	for _, name := range deps.Registry.Names() {
		ds, err := deps.Registry.Get(name)
		if err != nil {
			writeDatasourceError(r.Context(), w, err)
			return
		}
		items = append(items, map[string]any{
			"name":       ds.Name(),
			"type":       ds.Type(),
			"generators": ds.ListGenerators(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasources": items})
}

func handleListAssets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := lookupDatasource(deps, w, r, auth.RoleBatchReader, auth.RoleBatchValidator)
	if !ok {
		return
	}
	assets, err := ds.AvailableDataAssetNames(r.Context(), r.URL.Query()["generator"]...)
	if err != nil {
		writeDatasourceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasource": ds.Name(),
		"assets":     assets,
	})
}

func handleBuildBatchKwargs(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := lookupDatasource(deps, w, r, auth.RoleBatchReader, auth.RoleBatchValidator)
	if !ok {
		return
	}
	var request batchRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.DataAssetName) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATA_ASSET_REQUIRED", "data_asset_name is required", false, nil)
		return
	}

	g, err := ds.Generator(request.Generator)
	if err != nil {
		writeDatasourceError(r.Context(), w, err)
		return
	}
	opts := generator.YieldOptions{QueryParams: request.QueryParams, Kwargs: request.ExtraKwargs}
	var typed batchkwargs.Typed
	if request.PartitionID != "" {
		typed, err = g.BuildBatchKwargsFromPartitionID(r.Context(), request.DataAssetName, request.PartitionID, opts)
	} else {
		typed, err = g.YieldBatchKwargs(r.Context(), request.DataAssetName, opts)
	}
	if err != nil {
		writeDatasourceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasource":      ds.Name(),
		"generator":       g.Name(),
		"data_asset_name": request.DataAssetName,
		"kind":            typed.Kind(),
		"batch_kwargs":    typed.Kwargs(),
	})
}

func handleGetBatch(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := lookupDatasource(deps, w, r, auth.RoleBatchReader, auth.RoleBatchValidator)
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

	head := deps.HeadRows
	if request.Head != nil {
		if *request.Head < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_HEAD", "head must be >= 0", false, nil)
			return
		}
		head = *request.Head
	}
	f := batch.Frame()
	writeJSON(w, http.StatusOK, map[string]any{
		"datasource":      ds.Name(),
		"data_asset_name": batch.DataAssetName(),
		"batch_kwargs":    batch.BatchKwargs(),
		"columns":         f.Columns(),
		"row_count":       f.NumRows(),
		"rows":            jsonRows(f.Head(head).Rows()),
	})
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := lookupDatasource(deps, w, r, auth.RoleBatchValidator)
	if !ok {
		return
	}
	var request validateRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	if len(request.Expectations) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "EXPECTATIONS_REQUIRED", "at least one expectation is required", false, nil)
		return
	}

	suite := dataset.NewSuite(request.DataAssetName, request.ExpectationSuiteName)
	batch, ok := loadBatch(deps, w, r, ds, request.batchRequest, suite)
	if !ok {
		return
	}
	results := make([]dataset.Result, 0, len(request.Expectations))
	for _, cfg := range request.Expectations {
		results = append(results, batch.Apply(cfg))
	}
	validation := dataset.Summarize(results)
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "batch validated",
			slog.String("datasource", ds.Name()),
			slog.String("data_asset_name", batch.DataAssetName()),
			slog.Bool("success", validation.Success),
			slog.Int("evaluated", validation.Statistics.Evaluated),
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasource":             ds.Name(),
		"data_asset_name":        batch.DataAssetName(),
		"expectation_suite_name": batch.Suite().Name,
		"batch_kwargs":           batch.BatchKwargs(),
		"success":                validation.Success,
		"statistics":             validation.Statistics,
		"results":                validation.Results,
		"expectation_suite":      batch.Suite(),
	})
}

func lookupDatasource(deps Dependencies, w http.ResponseWriter, r *http.Request, roles ...string) (datasource.Datasource, bool) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASOURCES_NOT_CONFIGURED", "datasource registry is not configured", false, nil)
		return nil, false
	}
	if err := requireAnyRole(r, roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return nil, false
	}
	ds, err := deps.Registry.Get(r.PathValue("datasource"))
	if err != nil {
		writeDatasourceError(r.Context(), w, err)
		return nil, false
	}
	return ds, true
}

func loadBatch(deps Dependencies, w http.ResponseWriter, r *http.Request, ds datasource.Datasource, request batchRequest, suite *dataset.Suite) (*dataset.Dataset, bool) {
	if strings.TrimSpace(request.DataAssetName) == "" && request.BatchKwargs == nil {
		writeError(r.Context(), w, http.StatusBadRequest, "DATA_ASSET_REQUIRED", "data_asset_name or batch_kwargs is required", false, nil)
		return nil, false
	}
	started := time.Now()
	batch, err := ds.GetBatch(r.Context(), datasource.BatchRequest{
		DataAssetName: request.DataAssetName,
		Suite:         suite,
		BatchKwargs:   request.BatchKwargs,
		Extra:         request.ExtraKwargs,
		Generator:     request.Generator,
		QueryParams:   request.QueryParams,
		PartitionID:   request.PartitionID,
	})
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "batch load failed",
				slog.String("datasource", ds.Name()),
				slog.String("data_asset_name", request.DataAssetName),
				slog.Any("error", err),
			)
		}
		writeDatasourceError(r.Context(), w, err)
		return nil, false
	}
	if deps.Logger != nil {
		deps.Logger.DebugContext(r.Context(), "batch loaded",
			slog.String("datasource", ds.Name()),
			slog.String("data_asset_name", batch.DataAssetName()),
			slog.Int("rows", batch.Frame().NumRows()),
			slog.Duration("elapsed", time.Since(started)),
		)
	}
	return batch, true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeDatasourceError(ctx context.Context, w http.ResponseWriter, err error) {
	var kwargsErr *batchkwargs.Error
	switch {
	case errors.Is(err, datasource.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "DATASOURCE_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, datasource.ErrGeneratorNotFound):
		writeError(ctx, w, http.StatusNotFound, "GENERATOR_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "BATCH_SOURCE_NOT_FOUND", err.Error(), false, nil)
	case errors.As(err, &kwargsErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_BATCH_KWARGS", kwargsErr.Message, false, map[string]any{"batch_kwargs": kwargsErr.Kwargs})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "BATCH_TIMEOUT", "batch load timed out", true, map[string]any{"details": err.Error()})
	default:
		writeError(ctx, w, http.StatusBadGateway, "BATCH_LOAD_FAILED", "failed to load batch", true, map[string]any{"details": err.Error()})
	}
}

// jsonRows replaces values encoding/json cannot represent.
func jsonRows(rows [][]any) [][]any {
	for _, row := range rows {
		for i, value := range row {
			switch typed := value.(type) {
			case float64:
				if math.IsNaN(typed) || math.IsInf(typed, 0) {
					row[i] = nil
				}
			case float32:
				if math.IsNaN(float64(typed)) || math.IsInf(float64(typed), 0) {
					row[i] = nil
				}
			case []byte:
				row[i] = string(typed)
			}
		}
	}
	return rows
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("missing required role, expected one of %q", strings.Join(roles, ","))
}
