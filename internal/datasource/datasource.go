package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/dataset"
	"github.com/batchkit/batchkit/internal/generator"
	"github.com/batchkit/batchkit/internal/observability"
)

const (
	TypeFrame = "pandas"
	TypeSQL   = "sql"
)

var (
	ErrNotFound          = errors.New("datasource not found")
	ErrGeneratorNotFound = errors.New("generator not found")
)

// Datasource materializes batches described by batch kwargs and owns the
// generators that produce them.
type Datasource interface {
	Name() string
	Type() string
	RootDirectory() string
	AddGenerator(name string, cfg GeneratorConfig) (generator.Generator, error)
	// Generator returns the named generator, or the default one for "".
	Generator(name string) (generator.Generator, error)
	ListGenerators() []GeneratorInfo
	// AvailableDataAssetNames maps generator name to its assets. With no names
	// every generator is listed.
	AvailableDataAssetNames(ctx context.Context, generatorNames ...string) (map[string][]string, error)
	BuildBatchKwargs(source any, extra *batchkwargs.Kwargs) (*batchkwargs.Kwargs, error)
	GetBatch(ctx context.Context, req BatchRequest) (*dataset.Dataset, error)
	Config() Config
	Close() error
}

// Config is the definition of one datasource in the context file.
type Config struct {
	Type       string                     `yaml:"type" json:"type"`
	Generators map[string]GeneratorConfig `yaml:"generators,omitempty" json:"generators,omitempty"`

	// Frame datasources only. Used to build the default generator.
	BaseDirectory string         `yaml:"base_directory,omitempty" json:"base_directory,omitempty"`
	ReaderOptions map[string]any `yaml:"reader_options,omitempty" json:"reader_options,omitempty"`

	// SQL datasources only.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty" json:"-"`
}

type GeneratorConfig struct {
	Type          string            `yaml:"type" json:"type"`
	BaseDirectory string            `yaml:"base_directory,omitempty" json:"base_directory,omitempty"`
	ReaderOptions map[string]any    `yaml:"reader_options,omitempty" json:"reader_options,omitempty"`
	Prefix        string            `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Queries       map[string]string `yaml:"queries,omitempty" json:"queries,omitempty"`
}

type GeneratorInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// BatchRequest names the batch to load. Without BatchKwargs the batch kwargs
// are yielded for DataAssetName by Generator, or the default generator.
type BatchRequest struct {
	DataAssetName string
	Suite         *dataset.Suite
	BatchKwargs   *batchkwargs.Kwargs
	// Extra is merged into the batch kwargs before loading.
	Extra       *batchkwargs.Kwargs
	Generator   string
	QueryParams map[string]any
	PartitionID string
}

// buildFunc constructs a generator of a type the datasource supports.
type buildFunc func(name string, cfg GeneratorConfig) (generator.Generator, error)

type base struct {
	name           string
	datasourceType string
	rootDirectory  string
	config         Config
	logger         *slog.Logger
	build          buildFunc

	mu         sync.RWMutex
	generators map[string]generator.Generator
	order      []string
}

func (b *base) init(name, datasourceType, rootDirectory string, cfg Config, logger *slog.Logger, build buildFunc) {
	b.name = name
	b.datasourceType = datasourceType
	b.rootDirectory = rootDirectory
	cfg.Type = datasourceType
	b.config = cfg
	b.logger = observability.ForDatasource(logger, name, datasourceType)
	b.build = build
	b.generators = map[string]generator.Generator{}
}

// buildGenerators constructs every configured generator in name order.
func (b *base) buildGenerators() error {
	names := make([]string, 0, len(b.config.Generators))
	for name := range b.config.Generators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := b.addGenerator(name, b.config.Generators[name], false); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Type() string {
	return b.datasourceType
}

func (b *base) RootDirectory() string {
	return b.rootDirectory
}

func (b *base) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cfg := b.config
	cfg.Generators = make(map[string]GeneratorConfig, len(b.config.Generators))
	for name, generatorCfg := range b.config.Generators {
		cfg.Generators[name] = generatorCfg
	}
	return cfg
}

func (b *base) AddGenerator(name string, cfg GeneratorConfig) (generator.Generator, error) {
	return b.addGenerator(name, cfg, true)
}

func (b *base) addGenerator(name string, cfg GeneratorConfig, record bool) (generator.Generator, error) {
	if name == "" {
		return nil, fmt.Errorf("generator name is required")
	}
	g, err := b.build(name, cfg)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.generators[name]; !exists {
		b.order = append(b.order, name)
	}
	b.generators[name] = g
	if record {
		if b.config.Generators == nil {
			b.config.Generators = map[string]GeneratorConfig{}
		}
		b.config.Generators[name] = cfg
	}
	b.logger.Debug("generator added", slog.String("generator", name), slog.String("generator_type", cfg.Type))
	return g, nil
}

func (b *base) Generator(name string) (generator.Generator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name == "" {
		if g, ok := b.generators[generator.DefaultName]; ok {
			return g, nil
		}
		if len(b.order) == 1 {
			return b.generators[b.order[0]], nil
		}
		return nil, fmt.Errorf("%w: datasource %s has no default generator", ErrGeneratorNotFound, b.name)
	}
	g, ok := b.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in datasource %s", ErrGeneratorNotFound, name, b.name)
	}
	return g, nil
}

func (b *base) ListGenerators() []GeneratorInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]GeneratorInfo, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, GeneratorInfo{Name: name, Type: b.generators[name].Type()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *base) AvailableDataAssetNames(ctx context.Context, generatorNames ...string) (map[string][]string, error) {
	if len(generatorNames) == 0 {
		for _, info := range b.ListGenerators() {
			generatorNames = append(generatorNames, info.Name)
		}
	}
	out := make(map[string][]string, len(generatorNames))
	for _, name := range generatorNames {
		g, err := b.Generator(name)
		if err != nil {
			return nil, err
		}
		assets, err := g.AvailableDataAssetNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("list assets of generator %s: %w", name, err)
		}
		out[name] = assets
	}
	return out, nil
}

// resolveKwargs returns a private copy of the request's batch kwargs, yielding
// them from a generator when none were given, with Extra merged in.
func (b *base) resolveKwargs(ctx context.Context, req BatchRequest) (*batchkwargs.Kwargs, error) {
	var kwargs *batchkwargs.Kwargs
	if req.BatchKwargs != nil {
		kwargs = req.BatchKwargs.Copy()
	} else {
		if req.DataAssetName == "" {
			return nil, batchkwargs.NewError("data asset name is required when no batch kwargs are given", nil)
		}
		g, err := b.Generator(req.Generator)
		if err != nil {
			return nil, err
		}
		opts := generator.YieldOptions{QueryParams: req.QueryParams}
		var typed batchkwargs.Typed
		if req.PartitionID != "" {
			typed, err = g.BuildBatchKwargsFromPartitionID(ctx, req.DataAssetName, req.PartitionID, opts)
		} else {
			typed, err = g.YieldBatchKwargs(ctx, req.DataAssetName, opts)
		}
		if err != nil {
			return nil, err
		}
		kwargs = typed.Kwargs()
	}
	if req.Extra != nil {
		kwargs.Update(req.Extra)
	}
	return kwargs, nil
}

func (b *base) Close() error {
	return nil
}

// readerOptionsKwargs converts configured reader options to batch kwargs.
func readerOptionsKwargs(options map[string]any) *batchkwargs.Kwargs {
	if len(options) == 0 {
		return batchkwargs.New()
	}
	return batchkwargs.FromMap(options)
}
