package batchctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is one API call a command resolves to.
type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("batchctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "batchkit API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	req, err := buildRequest(strings.TrimSpace(fs.Arg(0)), fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "datasources":
		return request{method: http.MethodGet, path: "/v1/datasources"}, nil
	}

	fs := flag.NewFlagSet("batchctl "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	generator := fs.String("generator", "", "generator name (default generator when empty)")
	partitionID := fs.String("partition-id", "", "partition id to build batch kwargs for")
	head := fs.Int("head", -1, "rows to return with the batch (server default when negative)")
	expectations := fs.String("expectations", "", "YAML or JSON file with the expectations to validate")
	suiteName := fs.String("suite", "", "expectation suite name")
	params := queryParams{}
	fs.Var(params, "param", "query parameter as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}

	switch command {
	case "assets":
		if fs.NArg() != 1 {
			return request{}, fmt.Errorf("assets requires <datasource>")
		}
		path := datasourcePath(fs.Arg(0), "assets")
		if *generator != "" {
			path += "?" + url.Values{"generator": {*generator}}.Encode()
		}
		return request{method: http.MethodGet, path: path}, nil
	case "exports":
		if fs.NArg() > 1 {
			return request{}, fmt.Errorf("exports takes at most one <datasource>")
		}
		path := "/v1/exports"
		if fs.NArg() == 1 {
			path += "?" + url.Values{"datasource": {fs.Arg(0)}}.Encode()
		}
		return request{method: http.MethodGet, path: path}, nil
	case "export-info", "export-delete":
		if fs.NArg() != 1 {
			return request{}, fmt.Errorf("%s requires <key>", command)
		}
		method := http.MethodGet
		if command == "export-delete" {
			method = http.MethodDelete
		}
		return request{method: method, path: exportPath(fs.Arg(0))}, nil
	case "kwargs", "batch", "validate", "export":
		if fs.NArg() != 2 {
			return request{}, fmt.Errorf("%s requires <datasource> <data-asset>", command)
		}
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}

	body := map[string]any{"data_asset_name": fs.Arg(1)}
	if *generator != "" {
		body["generator"] = *generator
	}
	if *partitionID != "" {
		body["partition_id"] = *partitionID
	}
	if len(params) > 0 {
		body["query_params"] = map[string]any(params)
	}

	switch command {
	case "kwargs":
		return request{method: http.MethodPost, path: datasourcePath(fs.Arg(0), "batch-kwargs"), body: body}, nil
	case "export":
		return request{method: http.MethodPost, path: datasourcePath(fs.Arg(0), "exports"), body: body}, nil
	case "batch":
		if *head >= 0 {
			body["head"] = *head
		}
		return request{method: http.MethodPost, path: datasourcePath(fs.Arg(0), "batches"), body: body}, nil
	default:
		if *expectations == "" {
			return request{}, fmt.Errorf("validate requires -expectations")
		}
		configs, err := readExpectations(*expectations)
		if err != nil {
			return request{}, err
		}
		body["expectations"] = configs
		if *suiteName != "" {
			body["expectation_suite_name"] = *suiteName
		}
		return request{method: http.MethodPost, path: datasourcePath(fs.Arg(0), "validate"), body: body}, nil
	}
}

// readExpectations accepts a list of expectation configs, or a suite document
// holding one under "expectations".
func readExpectations(path string) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expectations: %w", err)
	}
	var list []map[string]any
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var suite struct {
		Expectations []map[string]any `yaml:"expectations"`
	}
	if err := yaml.Unmarshal(raw, &suite); err != nil {
		return nil, fmt.Errorf("parse expectations %s: %w", path, err)
	}
	if len(suite.Expectations) == 0 {
		return nil, fmt.Errorf("no expectations found in %s", path)
	}
	return suite.Expectations, nil
}

func datasourcePath(name, action string) string {
	return "/v1/datasources/" + url.PathEscape(name) + "/" + action
}

// exportPath escapes each segment of an export key, keeping its slashes.
func exportPath(key string) string {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "/v1/exports/" + strings.Join(segments, "/")
}

func doRequest(ctx context.Context, client *http.Client, r request, endpoint, apiKey string) (int, []byte, error) {
	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// queryParams collects repeated -param key=value flags.
type queryParams map[string]any

func (p queryParams) String() string {
	pairs := make([]string, 0, len(p))
	for key, value := range p {
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, value))
	}
	return strings.Join(pairs, ",")
}

func (p queryParams) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	p[key] = value
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: batchctl [flags] <command> [command flags] [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                        GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                         GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasources                   GET /v1/datasources")
	_, _ = fmt.Fprintln(w, "  assets <ds>                   GET /v1/datasources/<ds>/assets")
	_, _ = fmt.Fprintln(w, "  kwargs <ds> <asset>           POST /v1/datasources/<ds>/batch-kwargs")
	_, _ = fmt.Fprintln(w, "  batch <ds> <asset>            POST /v1/datasources/<ds>/batches")
	_, _ = fmt.Fprintln(w, "  validate <ds> <asset>         POST /v1/datasources/<ds>/validate")
	_, _ = fmt.Fprintln(w, "  export <ds> <asset>           POST /v1/datasources/<ds>/exports")
	_, _ = fmt.Fprintln(w, "  exports [ds]                  GET /v1/exports")
	_, _ = fmt.Fprintln(w, "  export-info <key>             GET /v1/exports/<key>")
	_, _ = fmt.Fprintln(w, "  export-delete <key>           DELETE /v1/exports/<key>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "command flags: -generator, -param key=value, -partition-id, -head, -expectations, -suite")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
