package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Context       ContextConfig
	ObjectStore   ObjectStoreConfig
	Export        ExportConfig
	SQL           SQLConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ContextConfig locates the data context: the root directory and the YAML file
// declaring its datasources.
type ContextConfig struct {
	RootDirectory        string
	File                 string
	DefaultBaseDirectory string
	HeadRows             int
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// ExportConfig places parquet batch exports in the object store.
type ExportConfig struct {
	Prefix string
}

type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// AuthConfig holds static API keys as key:subject:role|role entries,
// comma separated.
type AuthConfig struct {
	Required   bool
	StaticKeys string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("BATCHKIT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid BATCHKIT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "BATCHKIT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "BATCHKIT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "BATCHKIT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "BATCHKIT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "BATCHKIT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "BATCHKIT_CONTEXT_ROOT", &cfg.Context.RootDirectory) },
		func() error { return applyString(lookup, "BATCHKIT_CONTEXT_FILE", &cfg.Context.File) },
		func() error {
			return applyString(lookup, "BATCHKIT_DEFAULT_BASE_DIRECTORY", &cfg.Context.DefaultBaseDirectory)
		},
		func() error { return applyInt(lookup, "BATCHKIT_HEAD_ROWS", &cfg.Context.HeadRows) },
		func() error { return applyBool(lookup, "BATCHKIT_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "BATCHKIT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "BATCHKIT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "BATCHKIT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "BATCHKIT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "BATCHKIT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "BATCHKIT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "BATCHKIT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "BATCHKIT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "BATCHKIT_EXPORT_PREFIX", &cfg.Export.Prefix) },
		func() error { return applyInt(lookup, "BATCHKIT_SQL_MAX_OPEN_CONNS", &cfg.SQL.MaxOpenConns) },
		func() error { return applyInt(lookup, "BATCHKIT_SQL_MAX_IDLE_CONNS", &cfg.SQL.MaxIdleConns) },
		func() error { return applyDuration(lookup, "BATCHKIT_SQL_CONN_MAX_IDLE_TIME", &cfg.SQL.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "BATCHKIT_SQL_CONN_MAX_LIFETIME", &cfg.SQL.ConnMaxLifetime) },
		func() error { return applyDuration(lookup, "BATCHKIT_SQL_QUERY_TIMEOUT", &cfg.SQL.QueryTimeout) },
		func() error { return applyBool(lookup, "BATCHKIT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "BATCHKIT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error { return applyBool(lookup, "BATCHKIT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "BATCHKIT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Context.RootDirectory == "" {
		return Config{}, fmt.Errorf("context root directory is required")
	}
	if cfg.Context.HeadRows < 0 {
		return Config{}, fmt.Errorf("invalid BATCHKIT_HEAD_ROWS: must be >= 0")
	}
	if cfg.ObjectStore.Enabled && cfg.ObjectStore.Bucket == "" {
		return Config{}, fmt.Errorf("object store bucket is required when the object store is enabled")
	}
	if cfg.ObjectStore.Enabled && strings.Trim(cfg.Export.Prefix, "/") == "" {
		return Config{}, fmt.Errorf("BATCHKIT_EXPORT_PREFIX is required when the object store is enabled")
	}
	if cfg.Auth.Required && cfg.Auth.StaticKeys == "" {
		return Config{}, fmt.Errorf("BATCHKIT_AUTH_STATIC_KEYS is required when auth is required")
	}
	return cfg, nil
}

// ContextFilePath resolves the context file against the root directory.
func (c Config) ContextFilePath() string {
	if c.Context.File == "" || filepath.IsAbs(c.Context.File) {
		return c.Context.File
	}
	return filepath.Join(c.Context.RootDirectory, c.Context.File)
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "batchkit-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Context: ContextConfig{
			RootDirectory:        ".",
			File:                 "datasources.yml",
			DefaultBaseDirectory: "/data",
			HeadRows:             20,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "batchkit",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Export: ExportConfig{
			Prefix: "exports",
		},
		SQL: SQLConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Auth.Required = true
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
