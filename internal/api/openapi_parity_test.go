package api

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestOpenAPIContainsImplementedRoutes(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	content, err := os.ReadFile(filepath.Join(repoRoot, "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("read openapi file error = %v", err)
	}

	var document struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	if err := yaml.Unmarshal(content, &document); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}

	routes := []struct{ path, method string }{
		{"/v1/health", "get"},
		{"/v1/ready", "get"},
		{"/v1/metrics", "get"},
		{"/v1/datasources", "get"},
		{"/v1/datasources/{datasource}/assets", "get"},
		{"/v1/datasources/{datasource}/batch-kwargs", "post"},
		{"/v1/datasources/{datasource}/batches", "post"},
		{"/v1/datasources/{datasource}/validate", "post"},
		{"/v1/datasources/{datasource}/exports", "post"},
		{"/v1/exports", "get"},
		{"/v1/exports/{key}", "get"},
		{"/v1/exports/{key}", "delete"},
	}
	for _, route := range routes {
		operations, ok := document.Paths[route.path]
		if !ok {
			t.Fatalf("openapi missing path %s", route.path)
		}
		if _, ok := operations[route.method]; !ok {
			t.Fatalf("openapi path %s missing %s operation", route.path, route.method)
		}
	}
}
