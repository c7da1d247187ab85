package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/batchkit/batchkit/internal/config"
)

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "batchkit-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelWarn, LogJSON: true},
	}
	logger := NewLogger(cfg, buf)
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, `"service":"batchkit-api"`) || !strings.Contains(out, `"profile":"test"`) {
		t.Fatalf("missing service attributes: %q", out)
	}
}

func TestForDatasourceAddsAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := ForDatasource(slog.New(slog.NewTextHandler(buf, nil)), "files", "pandas")
	logger.Info("loaded")
	if !strings.Contains(buf.String(), "datasource=files") || !strings.Contains(buf.String(), "datasource_type=pandas") {
		t.Fatalf("log = %q", buf.String())
	}

	ForDatasource(nil, "files", "pandas").Info("discarded")
}
