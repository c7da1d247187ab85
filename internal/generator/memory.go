package generator

import (
	"context"

	"github.com/batchkit/batchkit/internal/batchkwargs"
)

// EmptyGenerator backs datasources whose batches are always passed in memory.
// It has no assets of its own.
type EmptyGenerator struct {
	base
}

func NewEmptyGenerator(name string) *EmptyGenerator {
	g := &EmptyGenerator{}
	g.init(name, TypeMemory)
	return g
}

func (g *EmptyGenerator) AvailableDataAssetNames(context.Context) ([]string, error) {
	return []string{}, nil
}

func (g *EmptyGenerator) YieldBatchKwargs(_ context.Context, asset string, opts YieldOptions) (batchkwargs.Typed, error) {
	return g.finish(nil, opts, batchkwargs.Errorf(nil, "Generator %s has no data asset %q: pass an in-memory frame as batch kwargs", g.Name(), asset))
}

func (g *EmptyGenerator) AvailablePartitionIDs(context.Context, string) ([]string, error) {
	return []string{}, nil
}

func (g *EmptyGenerator) BuildBatchKwargsFromPartitionID(ctx context.Context, asset, _ string, opts YieldOptions) (batchkwargs.Typed, error) {
	return g.YieldBatchKwargs(ctx, asset, opts)
}
