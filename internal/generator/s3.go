package generator

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/reader"
	"github.com/batchkit/batchkit/internal/storage"
)

// ObjectLister is the part of an object store the S3 generator needs.
type ObjectLister interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// S3Generator is the object store counterpart of SubdirReaderGenerator: assets
// are readable objects directly under its prefix and "directories" of them.
type S3Generator struct {
	base
	store         ObjectLister
	prefix        string
	readerOptions *batchkwargs.Kwargs
}

func NewS3Generator(name string, store ObjectLister, prefix string, readerOptions *batchkwargs.Kwargs) *S3Generator {
	if readerOptions == nil {
		readerOptions = batchkwargs.New()
	}
	g := &S3Generator{
		store:         store,
		prefix:        strings.Trim(prefix, "/"),
		readerOptions: readerOptions.Copy(),
	}
	g.init(name, TypeS3Reader)
	return g
}

func (g *S3Generator) Prefix() string {
	return g.prefix
}

func (g *S3Generator) AvailableDataAssetNames(ctx context.Context) ([]string, error) {
	keys, err := g.relativeKeys(ctx)
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	for _, rel := range keys {
		dir, file := path.Split(rel)
		if _, ok := reader.FormatFor(file); !ok {
			continue
		}
		switch strings.Count(dir, "/") {
		case 0:
			names[stem(file)] = struct{}{}
		case 1:
			names[strings.TrimSuffix(dir, "/")] = struct{}{}
		}
	}
	return sortedKeys(names), nil
}

func (g *S3Generator) YieldBatchKwargs(ctx context.Context, asset string, opts YieldOptions) (batchkwargs.Typed, error) {
	kwargs, err := g.next(asset, func() ([]*batchkwargs.Kwargs, error) {
		keys, err := g.assetKeys(ctx, asset)
		if err != nil {
			return nil, err
		}
		items := make([]*batchkwargs.Kwargs, 0, len(keys))
		for _, key := range keys {
			items = append(items, g.objectKwargs(key))
		}
		return items, nil
	})
	return g.finish(kwargs, opts, err)
}

func (g *S3Generator) AvailablePartitionIDs(ctx context.Context, asset string) ([]string, error) {
	keys, err := g.assetKeys(ctx, asset)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, stem(path.Base(key)))
	}
	return ids, nil
}

func (g *S3Generator) BuildBatchKwargsFromPartitionID(ctx context.Context, asset, partitionID string, opts YieldOptions) (batchkwargs.Typed, error) {
	keys, err := g.assetKeys(ctx, asset)
	if err != nil {
		return g.finish(nil, opts, err)
	}
	for _, key := range keys {
		if stem(path.Base(key)) == partitionID {
			return g.finish(g.objectKwargs(key), opts, nil)
		}
	}
	return g.finish(nil, opts, batchkwargs.Errorf(nil, "Unable to find partition_id %q for data asset %q", partitionID, asset))
}

func (g *S3Generator) objectKwargs(key string) *batchkwargs.Kwargs {
	kwargs := g.readerOptions.Copy()
	kwargs.Set(batchkwargs.KeyS3, key)
	kwargs.Set(batchkwargs.KeyTimestamp, batchkwargs.Timestamp(time.Now()))
	return kwargs
}

// assetKeys returns full object keys for asset, sorted.
func (g *S3Generator) assetKeys(ctx context.Context, asset string) ([]string, error) {
	if err := validateAssetName(asset); err != nil {
		return nil, err
	}
	keys, err := g.relativeKeys(ctx)
	if err != nil {
		return nil, err
	}
	var inDir, single []string
	for _, rel := range keys {
		dir, file := path.Split(rel)
		if _, ok := reader.FormatFor(file); !ok {
			continue
		}
		switch {
		case dir == asset+"/":
			inDir = append(inDir, g.fullKey(rel))
		case dir == "" && stem(file) == asset:
			single = append(single, g.fullKey(rel))
		}
	}
	if len(inDir) > 0 {
		return inDir, nil
	}
	if len(single) > 0 {
		return single[:1], nil
	}
	return nil, batchkwargs.Errorf(nil, "No valid objects found when searching %s using configured known_extensions: %s",
		g.fullKey(asset), strings.Join(reader.KnownExtensions(), ", "))
}

func (g *S3Generator) relativeKeys(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if g.prefix != "" {
		listPrefix = g.prefix + "/"
	}
	objects, err := g.store.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", listPrefix, err)
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		rel := strings.TrimPrefix(object.Key, listPrefix)
		if rel == "" || strings.HasPrefix(path.Base(rel), ".") {
			continue
		}
		keys = append(keys, rel)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *S3Generator) fullKey(rel string) string {
	if g.prefix == "" {
		return rel
	}
	return g.prefix + "/" + rel
}
