package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/dataset"
	"github.com/batchkit/batchkit/internal/frame"
	"github.com/batchkit/batchkit/internal/generator"
	"github.com/batchkit/batchkit/internal/observability"
	"github.com/batchkit/batchkit/internal/reader"
	"github.com/batchkit/batchkit/internal/storage"
)

// FrameDatasource loads batches from files, object store keys or frames
// passed in memory.
type FrameDatasource struct {
	base
	store storage.ObjectStore
}

// NewFrameDatasource builds a frame datasource. Without configured generators
// it gets a "default" subdir_reader generator over the configured base
// directory and reader options.
func NewFrameDatasource(name string, cfg Config, opts Options) (*FrameDatasource, error) {
	if name == "" {
		name = TypeFrame
	}
	if len(cfg.Generators) == 0 {
		baseDirectory := cfg.BaseDirectory
		if baseDirectory == "" {
			baseDirectory = opts.DefaultBaseDirectory
		}
		if baseDirectory == "" {
			baseDirectory = generator.DefaultBaseDirectory
		}
		cfg.Generators = map[string]GeneratorConfig{
			generator.DefaultName: {
				Type:          generator.TypeSubdirReader,
				BaseDirectory: baseDirectory,
				ReaderOptions: cfg.ReaderOptions,
			},
		}
	}

	d := &FrameDatasource{store: opts.Store}
	d.init(name, TypeFrame, opts.RootDirectory, cfg, opts.Logger, d.buildGenerator)
	if err := d.buildGenerators(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FrameDatasource) buildGenerator(name string, cfg GeneratorConfig) (generator.Generator, error) {
	switch cfg.Type {
	case generator.TypeSubdirReader:
		return generator.NewSubdirReaderGenerator(name, d, cfg.BaseDirectory, readerOptionsKwargs(cfg.ReaderOptions)), nil
	case generator.TypeMemory:
		return generator.NewEmptyGenerator(name), nil
	case generator.TypeS3Reader:
		if d.store == nil {
			return nil, fmt.Errorf("generator %s: %s requires an object store", name, cfg.Type)
		}
		return generator.NewS3Generator(name, d.store, cfg.Prefix, readerOptionsKwargs(cfg.ReaderOptions)), nil
	default:
		return nil, fmt.Errorf("Unrecognized BatchGenerator type %s", cfg.Type)
	}
}

// BuildBatchKwargs merges extra with a df entry for a frame or series, a path
// entry for a string, and a timestamp.
func (d *FrameDatasource) BuildBatchKwargs(source any, extra *batchkwargs.Kwargs) (*batchkwargs.Kwargs, error) {
	kwargs := batchkwargs.New()
	if extra != nil {
		kwargs.Update(extra)
	}
	switch typed := source.(type) {
	case nil:
	case *frame.Frame, frame.Series, *frame.Series:
		kwargs.Set(batchkwargs.KeyDataFrame, typed)
	case string:
		kwargs.Set(batchkwargs.KeyPath, typed)
	default:
		return nil, batchkwargs.Errorf(kwargs, "Unable to build batch kwargs from %T: expected a path, frame or series", source)
	}
	kwargs.Set(batchkwargs.KeyTimestamp, batchkwargs.Timestamp(time.Now()))
	return kwargs, nil
}

func (d *FrameDatasource) GetBatch(ctx context.Context, req BatchRequest) (*dataset.Dataset, error) {
	kwargs, err := d.resolveKwargs(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	kind, f, err := d.load(ctx, kwargs)
	elapsed := time.Since(start)
	rows := 0
	if f != nil {
		rows = f.NumRows()
	}
	observability.ObserveBatchLoad(d.name, string(kind), rows, elapsed, err)
	if err != nil {
		d.logger.Warn("batch load failed",
			slog.String("data_asset_name", req.DataAssetName),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	d.logger.Debug("batch loaded",
		slog.String("data_asset_name", req.DataAssetName),
		slog.String("kind", string(kind)),
		slog.Int("rows", rows),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)

	return dataset.New(f, dataset.Options{
		DataAssetName: req.DataAssetName,
		BatchKwargs:   kwargs,
		Suite:         req.Suite,
	}), nil
}

// load reads the batch described by kwargs. A df entry is removed from kwargs
// once loaded.
func (d *FrameDatasource) load(ctx context.Context, kwargs *batchkwargs.Kwargs) (batchkwargs.Kind, *frame.Frame, error) {
	switch {
	case kwargs.Has(batchkwargs.KeyPath):
		path, ok := kwargs.GetString(batchkwargs.KeyPath)
		if !ok {
			return batchkwargs.KindPath, nil, batchkwargs.NewError("Invalid batch_kwargs: path must be a string", kwargs)
		}
		opts, err := readerOptionsFor(path, kwargs, batchkwargs.KeyPath)
		if err != nil {
			return batchkwargs.KindPath, nil, err
		}
		f, err := reader.ReadFile(path, opts)
		if err != nil {
			return batchkwargs.KindPath, nil, fmt.Errorf("read %q: %w", path, err)
		}
		return batchkwargs.KindPath, f, nil
	case kwargs.Has(batchkwargs.KeyS3):
		f, err := d.loadObject(ctx, kwargs)
		return batchkwargs.KindS3, f, err
	default:
		value, _ := kwargs.Get(batchkwargs.KeyDataFrame)
		if f, ok := asFrame(value); ok {
			kwargs.Delete(batchkwargs.KeyDataFrame)
			return batchkwargs.KindMemory, f, nil
		}
		return batchkwargs.KindMemory, nil, batchkwargs.NewError("Invalid batch_kwargs: path or df is required for a PandasDatasource", kwargs)
	}
}

func (d *FrameDatasource) loadObject(ctx context.Context, kwargs *batchkwargs.Kwargs) (*frame.Frame, error) {
	if d.store == nil {
		return nil, batchkwargs.NewError("Invalid batch_kwargs: s3 requires a configured object store", kwargs)
	}
	value, ok := kwargs.GetString(batchkwargs.KeyS3)
	if !ok {
		return nil, batchkwargs.NewError("Invalid batch_kwargs: s3 must be a string", kwargs)
	}
	bucket, prefix := "", ""
	if named, ok := d.store.(interface{ Bucket() string }); ok {
		bucket = named.Bucket()
	}
	if rooted, ok := d.store.(interface{ Prefix() string }); ok {
		prefix = rooted.Prefix()
	}
	key, err := storage.ObjectKey(value, bucket, prefix)
	if err != nil {
		return nil, batchkwargs.Errorf(kwargs, "Invalid batch_kwargs: %v", err)
	}
	opts, err := readerOptionsFor(key, kwargs, batchkwargs.KeyS3)
	if err != nil {
		return nil, err
	}

	body, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	if err := body.Close(); err != nil {
		return nil, fmt.Errorf("close object %q: %w", key, err)
	}

	f, err := reader.Read(key, io.NewSectionReader(bytes.NewReader(data), 0, int64(len(data))), opts)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return f, nil
}

// readerOptionsFor picks the reader for name and parses every kwarg except
// the source key and timestamp as its options.
func readerOptionsFor(name string, kwargs *batchkwargs.Kwargs, sourceKey string) (reader.Options, error) {
	format, ok := reader.FormatFor(name)
	if !ok {
		return reader.Options{}, batchkwargs.NewError("Unrecognized path: no available reader.", kwargs)
	}
	options := kwargs.Copy()
	options.Delete(sourceKey)
	options.Delete(batchkwargs.KeyTimestamp)
	opts, err := reader.ParseOptions(format, options)
	if err != nil {
		return reader.Options{}, batchkwargs.Errorf(kwargs, "Invalid reader options: %v", err)
	}
	return opts, nil
}

func asFrame(value any) (*frame.Frame, bool) {
	switch typed := value.(type) {
	case *frame.Frame:
		return typed, typed != nil
	case frame.Series:
		return typed.ToFrame(), true
	case *frame.Series:
		if typed == nil {
			return nil, false
		}
		return typed.ToFrame(), true
	default:
		return nil, false
	}
}
