package generator

import (
	"context"
	"sync"
	"time"

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/observability"
)

const (
	TypeQueries      = "queries"
	TypeSubdirReader = "subdir_reader"
	TypeMemory       = "memory"
	TypeS3Reader     = "s3_reader"

	DefaultName = "default"
)

// Generator produces batch kwargs for the data assets it knows about.
type Generator interface {
	Name() string
	Type() string
	AvailableDataAssetNames(ctx context.Context) ([]string, error)
	// YieldBatchKwargs returns the next batch kwargs for asset. Repeated calls
	// walk the asset's batches and start over once they are exhausted.
	YieldBatchKwargs(ctx context.Context, asset string, opts YieldOptions) (batchkwargs.Typed, error)
	AvailablePartitionIDs(ctx context.Context, asset string) ([]string, error)
	BuildBatchKwargsFromPartitionID(ctx context.Context, asset, partitionID string, opts YieldOptions) (batchkwargs.Typed, error)
	Reset(asset string)
}

type YieldOptions struct {
	QueryParams map[string]any
	// Kwargs are merged into every yielded set of batch kwargs.
	Kwargs *batchkwargs.Kwargs
}

// Owner is what a generator needs from the datasource it belongs to.
type Owner interface {
	Name() string
	// RootDirectory is the data context root, or "" when there is none.
	RootDirectory() string
	BuildBatchKwargs(source any, extra *batchkwargs.Kwargs) (*batchkwargs.Kwargs, error)
}

type base struct {
	name          string
	generatorType string

	mu        sync.Mutex
	iterators map[string]*iterator
}

type iterator struct {
	items []*batchkwargs.Kwargs
	pos   int
}

func (b *base) init(name, generatorType string) {
	if name == "" {
		name = DefaultName
	}
	b.name = name
	b.generatorType = generatorType
	b.iterators = map[string]*iterator{}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Type() string {
	return b.generatorType
}

func (b *base) Reset(asset string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.iterators, asset)
}

// next returns the next item for asset, calling build whenever the asset has
// no iterator or its iterator is exhausted.
func (b *base) next(asset string, build func() ([]*batchkwargs.Kwargs, error)) (*batchkwargs.Kwargs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	it, ok := b.iterators[asset]
	if !ok || it.pos >= len(it.items) {
		items, err := build()
		if err != nil {
			delete(b.iterators, asset)
			return nil, err
		}
		if len(items) == 0 {
			delete(b.iterators, asset)
			return nil, batchkwargs.Errorf(nil, "No batch kwargs available for data asset %q", asset)
		}
		it = &iterator{items: items}
		b.iterators[asset] = it
	}
	item := it.items[it.pos]
	it.pos++
	return item.Copy(), nil
}

// finish classifies kwargs after merging opts and records the outcome.
func (b *base) finish(kwargs *batchkwargs.Kwargs, opts YieldOptions, err error) (batchkwargs.Typed, error) {
	var typed batchkwargs.Typed
	if err == nil {
		if opts.Kwargs != nil {
			kwargs.Update(opts.Kwargs)
		}
		typed, err = batchkwargs.Classify(kwargs)
	}
	observability.ObserveGeneratorYield(b.generatorType, err)
	if err != nil {
		return nil, err
	}
	return typed, nil
}

// sourceKwargs asks owner for batch kwargs naming source, falling back to a
// plain path when the generator is used without a datasource.
func sourceKwargs(owner Owner, source string, extra *batchkwargs.Kwargs) (*batchkwargs.Kwargs, error) {
	if owner != nil {
		return owner.BuildBatchKwargs(source, extra)
	}
	kwargs := batchkwargs.New()
	if extra != nil {
		kwargs.Update(extra)
	}
	kwargs.Set(batchkwargs.KeyPath, source)
	kwargs.Set(batchkwargs.KeyTimestamp, batchkwargs.Timestamp(time.Now()))
	return kwargs, nil
}
