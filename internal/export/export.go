package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/batchkit/batchkit/internal/frame"
	"github.com/batchkit/batchkit/internal/observability"
	"github.com/batchkit/batchkit/internal/reader"
	"github.com/batchkit/batchkit/internal/storage"
)

const (
	ContentType   = "application/vnd.apache.parquet"
	fileExtension = ".parquet"
	unnamedAsset  = "batch"
	keyTimeLayout = "20060102T150405.000000000Z"
)

var ErrInvalidKey = errors.New("invalid export key")

type Options struct {
	// Prefix is the object store directory every export is written under.
	Prefix string
	Logger *slog.Logger
	Now    func() time.Time
}

// Exporter writes loaded batches to an object store as parquet files and
// manages the files it wrote. Keys are relative to the store.
type Exporter struct {
	store  storage.ObjectStore
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

func New(store storage.ObjectStore, opts Options) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	prefix := strings.Trim(path.Clean("/"+strings.TrimSpace(opts.Prefix)), "/")
	if prefix == "" {
		return nil, fmt.Errorf("export prefix is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{store: store, prefix: prefix, logger: logger, now: now}, nil
}

// Export writes f to <prefix>/<datasource>/<asset>/<timestamp>.parquet.
func (e *Exporter) Export(ctx context.Context, datasourceName, dataAssetName string, f *frame.Frame) (storage.ObjectInfo, error) {
	info, err := e.export(ctx, datasourceName, dataAssetName, f)
	observability.ObserveBatchExport(datasourceName, info.Size, err)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	e.logger.InfoContext(ctx, "batch exported",
		slog.String("datasource", datasourceName),
		slog.String("data_asset_name", dataAssetName),
		slog.String("key", info.Key),
		slog.Int64("size", info.Size),
		slog.Int("rows", f.NumRows()),
	)
	return info, nil
}

func (e *Exporter) export(ctx context.Context, datasourceName, dataAssetName string, f *frame.Frame) (storage.ObjectInfo, error) {
	if f == nil {
		return storage.ObjectInfo{}, fmt.Errorf("frame is required")
	}
	if strings.TrimSpace(dataAssetName) == "" {
		dataAssetName = unnamedAsset
	}
	key := path.Join(
		e.prefix,
		segment(datasourceName),
		segment(dataAssetName),
		e.now().UTC().Format(keyTimeLayout)+fileExtension,
	)

	var buf bytes.Buffer
	if err := reader.WriteParquet(&buf, f); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("encode export %q: %w", key, err)
	}
	size := int64(buf.Len())
	info, err := e.store.Put(ctx, key, &buf, size, storage.PutOptions{ContentType: ContentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("write export %q: %w", key, err)
	}
	info.Key = key
	if info.Size == 0 {
		info.Size = size
	}
	if info.LastModified.IsZero() {
		info.LastModified = e.now().UTC()
	}
	return info, nil
}

// List returns the exports of datasourceName, or every export when it is
// empty, sorted by key.
func (e *Exporter) List(ctx context.Context, datasourceName string) ([]storage.ObjectInfo, error) {
	listPrefix := e.prefix + "/"
	if strings.TrimSpace(datasourceName) != "" {
		listPrefix += segment(datasourceName) + "/"
	}
	objects, err := e.store.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	out := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if strings.HasSuffix(object.Key, fileExtension) {
			out = append(out, object)
		}
	}
	return out, nil
}

func (e *Exporter) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	key, err := e.checkKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := e.store.Stat(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat export %q: %w", key, err)
	}
	info.Key = key
	return info, nil
}

// Delete removes an export. Missing exports report storage.ErrObjectNotFound.
func (e *Exporter) Delete(ctx context.Context, key string) error {
	info, err := e.Stat(ctx, key)
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, info.Key); err != nil {
		return fmt.Errorf("delete export %q: %w", info.Key, err)
	}
	e.logger.InfoContext(ctx, "export deleted", slog.String("key", info.Key))
	return nil
}

// checkKey only admits parquet keys under the export prefix.
func (e *Exporter) checkKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	cleaned := path.Clean(key)
	if key == "" || cleaned != key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !strings.HasPrefix(cleaned, e.prefix+"/") || !strings.HasSuffix(cleaned, fileExtension) {
		return "", fmt.Errorf("%w: %q is not an export", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func segment(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	if strings.Trim(name, ".") == "" {
		return "_"
	}
	return name
}
