package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/batchkit/batchkit/internal/storage"
)

// Options carries the dependencies shared by every datasource.
type Options struct {
	// RootDirectory is the data context root. Relative generator paths and
	// query directories resolve against it.
	RootDirectory        string
	DefaultBaseDirectory string
	Store                storage.ObjectStore
	// DB, when set, is used by SQL datasources instead of opening their DSN.
	DB           *sql.DB
	SQL          DBConfig
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// ContextFile is the YAML document datasources are defined in.
type ContextFile struct {
	Datasources map[string]Config `yaml:"datasources"`
}

// ParseContextFile decodes a context file. Unknown fields are rejected and an
// empty document defines no datasources.
func ParseContextFile(r io.Reader) (ContextFile, error) {
	var file ContextFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return ContextFile{}, fmt.Errorf("decode context file: %w", err)
	}
	if file.Datasources == nil {
		file.Datasources = map[string]Config{}
	}
	return file, nil
}

// Registry holds the datasources of one data context.
type Registry struct {
	mu          sync.RWMutex
	datasources map[string]Datasource
	root        string
	logger      *slog.Logger
}

// LoadRegistry builds a registry from the context file at path. Its directory
// becomes the data context root. A missing file yields an empty registry.
func LoadRegistry(ctx context.Context, path string, opts Options) (*Registry, error) {
	opts.RootDirectory = filepath.Dir(path)
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if opts.Logger != nil {
			opts.Logger.Warn("context file not found, no datasources configured", slog.String("path", path))
		}
		return NewRegistry(ctx, nil, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open context file: %w", err)
	}
	defer func() { _ = file.Close() }()

	contextFile, err := ParseContextFile(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewRegistry(ctx, contextFile.Datasources, opts)
}

// NewRegistry builds one datasource per definition. Datasources already built
// are closed if a later one fails.
func NewRegistry(ctx context.Context, definitions map[string]Config, opts Options) (*Registry, error) {
	registry := &Registry{
		datasources: map[string]Datasource{},
		root:        opts.RootDirectory,
		logger:      opts.Logger,
	}
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ds, err := Build(ctx, name, definitions[name], opts)
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("datasource %s: %w", name, err)
		}
		registry.datasources[name] = ds
		if opts.Logger != nil {
			opts.Logger.Info("datasource configured",
				slog.String("datasource", name),
				slog.String("datasource_type", ds.Type()),
				slog.Int("generators", len(ds.ListGenerators())),
			)
		}
	}
	return registry, nil
}

// Build constructs the datasource cfg.Type names.
func Build(ctx context.Context, name string, cfg Config, opts Options) (Datasource, error) {
	switch cfg.Type {
	case TypeFrame:
		return NewFrameDatasource(name, cfg, opts)
	case TypeSQL:
		return NewSQLDatasource(ctx, name, cfg, opts)
	default:
		return nil, fmt.Errorf("unrecognized datasource type %q", cfg.Type)
	}
}

func (r *Registry) RootDirectory() string {
	return r.root
}

// Add registers ds, replacing any datasource with the same name.
func (r *Registry) Add(ds Datasource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasources[ds.Name()] = ds
}

func (r *Registry) Get(name string) (Datasource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.datasources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ds, nil
}

// Names returns every datasource name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.datasources))
	for name := range r.datasources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, ds := range r.datasources {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close datasource %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
