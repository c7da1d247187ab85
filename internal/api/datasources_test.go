package api

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/batchkit/batchkit/internal/config"
	"github.com/batchkit/batchkit/internal/datasource"
	"github.com/batchkit/batchkit/internal/generator"
)

func newTestRegistry(t *testing.T) *datasource.Registry {
	t.Helper()
	dir := t.TempDir()
	content := "id,kind,score\n1,click,0.5\n2,view,\n3,click,2.5\n"
	if err := os.WriteFile(filepath.Join(dir, "events.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	registry, err := datasource.NewRegistry(context.Background(), map[string]datasource.Config{
		"files": {Type: datasource.TypeFrame, BaseDirectory: dir},
		"local": {
			Type:   datasource.TypeSQL,
			Driver: datasource.DriverDuckDB,
			Generators: map[string]datasource.GeneratorConfig{
				"reports": {Type: generator.TypeQueries, Queries: map[string]string{
					"totals": "SELECT $n AS answer",
				}},
			},
		},
	}, datasource.Options{})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	cfg, err := config.Load("batchkit-api", mapLookup(map[string]string{"BATCHKIT_HEAD_ROWS": "2"}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return NewHandler(cfg, Dependencies{Registry: newTestRegistry(t)})
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestListDatasources(t *testing.T) {
	rr := serve(newTestHandler(t), http.MethodGet, "/v1/datasources", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	items := decodeBody(t, rr)["datasources"].([]any)
	if len(items) != 2 {
		t.Fatalf("datasources = %v", items)
	}
	first := items[0].(map[string]any)
	if first["name"] != "files" || first["type"] != "pandas" {
		t.Fatalf("first datasource = %v", first)
	}
	generators := first["generators"].([]any)
	if generators[0].(map[string]any)["type"] != generator.TypeSubdirReader {
		t.Fatalf("generators = %v", generators)
	}
}

func TestListAssets(t *testing.T) {
	h := newTestHandler(t)
	rr := serve(h, http.MethodGet, "/v1/datasources/files/assets", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	assets := decodeBody(t, rr)["assets"].(map[string]any)
	if !reflect.DeepEqual(assets["default"], []any{"events"}) {
		t.Fatalf("assets = %v", assets)
	}

	rr = serve(h, http.MethodGet, "/v1/datasources/files/assets?generator=nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown generator status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "GENERATOR_NOT_FOUND" {
		t.Fatalf("body = %v", body)
	}

	rr = serve(h, http.MethodGet, "/v1/datasources/missing/assets", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown datasource status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "DATASOURCE_NOT_FOUND" {
		t.Fatalf("body = %v", body)
	}
}

func TestBuildBatchKwargs(t *testing.T) {
	h := newTestHandler(t)

	rr := serve(h, http.MethodPost, "/v1/datasources/files/batch-kwargs", `{"data_asset_name":"events"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "path" {
		t.Fatalf("kind = %v", body["kind"])
	}
	kwargs := body["batch_kwargs"].(map[string]any)
	if !strings.HasSuffix(kwargs["path"].(string), "events.csv") {
		t.Fatalf("batch_kwargs = %v", kwargs)
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/local/batch-kwargs",
		`{"generator":"reports","data_asset_name":"totals","query_params":{"n":7}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body = decodeBody(t, rr)
	if body["kind"] != "query" || body["generator"] != "reports" {
		t.Fatalf("body = %v", body)
	}
	if query := body["batch_kwargs"].(map[string]any)["query"]; query != "SELECT 7 AS answer" {
		t.Fatalf("query = %v", query)
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/local/batch-kwargs",
		`{"data_asset_name":"totals","partition_id":"p1","generator":"reports","query_params":{"n":1}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("partition status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if params := decodeBody(t, rr)["batch_kwargs"].(map[string]any)["query"]; params != "SELECT 1 AS answer" {
		t.Fatalf("query = %v", params)
	}
}

func TestBuildBatchKwargsRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t)

	rr := serve(h, http.MethodPost, "/v1/datasources/files/batch-kwargs", `{"data_asset_name":"events","bogus":1}`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error_code"] != "INVALID_JSON" {
		t.Fatalf("unknown field status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/batch-kwargs", `{}`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error_code"] != "DATA_ASSET_REQUIRED" {
		t.Fatalf("missing asset status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/batch-kwargs", `{"data_asset_name":"absent"}`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error_code"] != "INVALID_BATCH_KWARGS" {
		t.Fatalf("absent asset status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetBatchReturnsHeadRows(t *testing.T) {
	h := newTestHandler(t)

	rr := serve(h, http.MethodPost, "/v1/datasources/files/batches", `{"data_asset_name":"events"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if !reflect.DeepEqual(body["columns"], []any{"id", "kind", "score"}) {
		t.Fatalf("columns = %v", body["columns"])
	}
	if body["row_count"] != float64(3) {
		t.Fatalf("row_count = %v", body["row_count"])
	}
	rows := body["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if !reflect.DeepEqual(rows[1], []any{float64(2), "view", nil}) {
		t.Fatalf("rows[1] = %v", rows[1])
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/batches", `{"data_asset_name":"events","head":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rows := decodeBody(t, rr)["rows"].([]any); len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/batches", `{"batch_kwargs":{"path":"/nowhere/x.unknown"}}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unreadable path status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/batches", `{"batch_kwargs":{"path":"/nowhere/x.csv"}}`)
	if rr.Code != http.StatusNotFound || decodeBody(t, rr)["error_code"] != "BATCH_SOURCE_NOT_FOUND" {
		t.Fatalf("missing file status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestValidateBatch(t *testing.T) {
	h := newTestHandler(t)

	rr := serve(h, http.MethodPost, "/v1/datasources/files/validate", `{
		"data_asset_name": "events",
		"expectation_suite_name": "smoke",
		"expectations": [
			{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "kind"}},
			{"expectation_type": "expect_column_values_to_be_in_set", "kwargs": {"column": "kind", "value_set": ["click", "view"]}},
			{"expectation_type": "expect_column_values_to_not_be_null", "kwargs": {"column": "score"}},
			{"expectation_type": "expect_the_unexpected", "kwargs": {}}
		]
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != false || body["expectation_suite_name"] != "smoke" {
		t.Fatalf("body = %v", body)
	}
	stats := body["statistics"].(map[string]any)
	if stats["evaluated_expectations"] != float64(4) || stats["successful_expectations"] != float64(2) {
		t.Fatalf("statistics = %v", stats)
	}
	results := body["results"].([]any)
	if _, ok := results[3].(map[string]any)["exception_info"]; !ok {
		t.Fatalf("results[3] = %v", results[3])
	}
	suite := body["expectation_suite"].(map[string]any)
	if len(suite["expectations"].([]any)) != 3 {
		t.Fatalf("suite = %v", suite)
	}

	rr = serve(h, http.MethodPost, "/v1/datasources/files/validate", `{"data_asset_name":"events","expectations":[]}`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error_code"] != "EXPECTATIONS_REQUIRED" {
		t.Fatalf("empty expectations status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestJSONRowsDropsNonFiniteFloats(t *testing.T) {
	rows := jsonRows([][]any{{1.5, []byte("x"), math.NaN(), math.Inf(1)}})
	if rows[0][0] != 1.5 || rows[0][1] != "x" || rows[0][2] != nil || rows[0][3] != nil {
		t.Fatalf("rows = %v", rows)
	}
}
