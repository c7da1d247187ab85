package generator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/batchkit/batchkit/internal/batchkwargs"
)

const queryFileExtension = ".sql"

// QueryGenerator yields query batch kwargs from named query templates. Queries
// come from its map and, when the owner has a data context root, from .sql
// files under the generator's queries directory.
type QueryGenerator struct {
	base
	queriesDir string

	queriesMu sync.RWMutex
	queries   map[string]string
}

func NewQueryGenerator(name string, owner Owner, queries map[string]string) *QueryGenerator {
	g := &QueryGenerator{queries: map[string]string{}}
	g.init(name, TypeQueries)
	for asset, query := range queries {
		g.queries[asset] = query
	}
	if owner != nil && owner.RootDirectory() != "" {
		g.queriesDir = filepath.Join(owner.RootDirectory(), "datasources", owner.Name(), "generators", g.Name(), "queries")
	}
	return g
}

// QueriesDirectory returns the directory holding .sql assets, or "".
func (g *QueryGenerator) QueriesDirectory() string {
	return g.queriesDir
}

// AddQuery stores query under asset, as a file when a queries directory is
// configured.
func (g *QueryGenerator) AddQuery(asset, query string) error {
	if err := validateAssetName(asset); err != nil {
		return err
	}
	if g.queriesDir != "" {
		if err := os.MkdirAll(g.queriesDir, 0o755); err != nil {
			return fmt.Errorf("create queries directory: %w", err)
		}
		if err := os.WriteFile(g.queryPath(asset), []byte(query), 0o644); err != nil {
			return fmt.Errorf("write query %q: %w", asset, err)
		}
		return nil
	}
	g.queriesMu.Lock()
	g.queries[asset] = query
	g.queriesMu.Unlock()
	return nil
}

func (g *QueryGenerator) RemoveQuery(asset string) error {
	removed := false
	if g.queriesDir != "" {
		err := os.Remove(g.queryPath(asset))
		switch {
		case err == nil:
			removed = true
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("remove query %q: %w", asset, err)
		}
	}
	g.queriesMu.Lock()
	if _, ok := g.queries[asset]; ok {
		delete(g.queries, asset)
		removed = true
	}
	g.queriesMu.Unlock()
	if !removed {
		return batchkwargs.Errorf(nil, "Unknown data asset %q for generator %s", asset, g.Name())
	}
	return nil
}

func (g *QueryGenerator) AvailableDataAssetNames(context.Context) ([]string, error) {
	names := map[string]struct{}{}
	g.queriesMu.RLock()
	for asset := range g.queries {
		names[asset] = struct{}{}
	}
	g.queriesMu.RUnlock()

	if g.queriesDir != "" {
		entries, err := os.ReadDir(g.queriesDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("list queries directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != queryFileExtension {
				continue
			}
			names[strings.TrimSuffix(entry.Name(), queryFileExtension)] = struct{}{}
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (g *QueryGenerator) YieldBatchKwargs(_ context.Context, asset string, opts YieldOptions) (batchkwargs.Typed, error) {
	kwargs, err := g.buildQueryKwargs(asset, opts.QueryParams)
	return g.finish(kwargs, opts, err)
}

// AvailablePartitionIDs always fails: a query cannot enumerate its partitions.
func (g *QueryGenerator) AvailablePartitionIDs(context.Context, string) ([]string, error) {
	return nil, batchkwargs.NewError("QueryGenerator cannot identify partitions.", nil)
}

// BuildBatchKwargsFromPartitionID yields asset with the partition_id query
// parameter set.
func (g *QueryGenerator) BuildBatchKwargsFromPartitionID(ctx context.Context, asset, partitionID string, opts YieldOptions) (batchkwargs.Typed, error) {
	params := make(map[string]any, len(opts.QueryParams)+1)
	for key, value := range opts.QueryParams {
		params[key] = value
	}
	params[batchkwargs.KeyPartitionID] = partitionID
	opts.QueryParams = params
	return g.YieldBatchKwargs(ctx, asset, opts)
}

func (g *QueryGenerator) buildQueryKwargs(asset string, params map[string]any) (*batchkwargs.Kwargs, error) {
	raw, ok, err := g.rawQuery(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, batchkwargs.Errorf(nil, "No query defined for data asset %q in generator %s", asset, g.Name())
	}
	query, err := NewTemplate(raw).Substitute(params)
	if err != nil {
		return nil, batchkwargs.Errorf(nil, "Unable to build batch kwargs for data asset %q: %v", asset, err)
	}
	return batchkwargs.NewQueryKwargs(query).Kwargs(), nil
}

// rawQuery looks in the queries directory first, then in the map.
func (g *QueryGenerator) rawQuery(asset string) (string, bool, error) {
	if g.queriesDir != "" && validateAssetName(asset) == nil {
		data, err := os.ReadFile(g.queryPath(asset))
		switch {
		case err == nil:
			return string(data), true, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("read query %q: %w", asset, err)
		}
	}
	g.queriesMu.RLock()
	defer g.queriesMu.RUnlock()
	query, ok := g.queries[asset]
	return query, ok, nil
}

func (g *QueryGenerator) queryPath(asset string) string {
	return filepath.Join(g.queriesDir, asset+queryFileExtension)
}

func validateAssetName(asset string) error {
	if strings.TrimSpace(asset) == "" {
		return batchkwargs.NewError("data asset name is required", nil)
	}
	if strings.ContainsAny(asset, `/\`) || asset == "." || asset == ".." {
		return batchkwargs.Errorf(nil, "invalid data asset name %q", asset)
	}
	return nil
}
