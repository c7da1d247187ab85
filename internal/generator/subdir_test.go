package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/storage"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("a\n1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestSubdirReaderAssetsAndCycling(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "events", "2026-01.csv"))
	writeFile(t, filepath.Join(root, "data", "events", "2026-02.csv"))
	writeFile(t, filepath.Join(root, "data", "events", "README.md"))
	writeFile(t, filepath.Join(root, "data", "users.parquet"))
	writeFile(t, filepath.Join(root, "data", "notes.txt"))
	writeFile(t, filepath.Join(root, "data", "empty", "notes.txt"))
	writeFile(t, filepath.Join(root, "data", ".hidden.csv"))

	options := batchkwargs.New()
	options.Set("sep", ";")
	g := NewSubdirReaderGenerator("", fakeOwner{name: "files", root: root}, "data", options)
	if g.BaseDirectory() != filepath.Join(root, "data") {
		t.Fatalf("BaseDirectory() = %q", g.BaseDirectory())
	}
	ctx := context.Background()

	names, err := g.AvailableDataAssetNames(ctx)
	if err != nil {
		t.Fatalf("AvailableDataAssetNames() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"events", "users"}) {
		t.Fatalf("AvailableDataAssetNames() = %v", names)
	}

	var paths []string
	for i := 0; i < 3; i++ {
		typed, err := g.YieldBatchKwargs(ctx, "events", YieldOptions{})
		if err != nil {
			t.Fatalf("YieldBatchKwargs() error = %v", err)
		}
		pathKwargs, ok := typed.(batchkwargs.PathKwargs)
		if !ok {
			t.Fatalf("YieldBatchKwargs() = %T, want PathKwargs", typed)
		}
		if sep, _ := pathKwargs.Kwargs().GetString("sep"); sep != ";" {
			t.Fatalf("reader option sep = %q", sep)
		}
		paths = append(paths, filepath.Base(pathKwargs.Path()))
	}
	if !reflect.DeepEqual(paths, []string{"2026-01.csv", "2026-02.csv", "2026-01.csv"}) {
		t.Fatalf("yielded paths = %v", paths)
	}

	g.Reset("events")
	typed, err := g.YieldBatchKwargs(ctx, "events", YieldOptions{})
	if err != nil {
		t.Fatalf("YieldBatchKwargs() error = %v", err)
	}
	if filepath.Base(typed.(batchkwargs.PathKwargs).Path()) != "2026-01.csv" {
		t.Fatalf("Reset() did not restart the iterator: %v", typed.Kwargs())
	}

	typed, err = g.YieldBatchKwargs(ctx, "users", YieldOptions{})
	if err != nil {
		t.Fatalf("YieldBatchKwargs() error = %v", err)
	}
	if got := typed.(batchkwargs.PathKwargs).Path(); got != filepath.Join(root, "data", "users.parquet") {
		t.Fatalf("Path() = %q", got)
	}
}

func TestSubdirReaderPartitions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "events", "a.csv"))
	writeFile(t, filepath.Join(root, "events", "b.tsv"))
	g := NewSubdirReaderGenerator("files", nil, root, nil)
	ctx := context.Background()

	ids, err := g.AvailablePartitionIDs(ctx, "events")
	if err != nil {
		t.Fatalf("AvailablePartitionIDs() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Fatalf("AvailablePartitionIDs() = %v", ids)
	}

	typed, err := g.BuildBatchKwargsFromPartitionID(ctx, "events", "b", YieldOptions{})
	if err != nil {
		t.Fatalf("BuildBatchKwargsFromPartitionID() error = %v", err)
	}
	if got := typed.(batchkwargs.PathKwargs).Path(); got != filepath.Join(root, "events", "b.tsv") {
		t.Fatalf("Path() = %q", got)
	}

	var kwargsErr *batchkwargs.Error
	if _, err := g.BuildBatchKwargsFromPartitionID(ctx, "events", "zzz", YieldOptions{}); !errors.As(err, &kwargsErr) {
		t.Fatalf("BuildBatchKwargsFromPartitionID() error = %v", err)
	}
}

func TestSubdirReaderMissingAsset(t *testing.T) {
	g := NewSubdirReaderGenerator("", nil, t.TempDir(), nil)
	_, err := g.YieldBatchKwargs(context.Background(), "missing", YieldOptions{})
	var kwargsErr *batchkwargs.Error
	if !errors.As(err, &kwargsErr) || !strings.Contains(err.Error(), "No valid files found") {
		t.Fatalf("YieldBatchKwargs() error = %v", err)
	}
}

func TestSubdirReaderMissingBaseDirectoryHasNoAssets(t *testing.T) {
	g := NewSubdirReaderGenerator("", nil, filepath.Join(t.TempDir(), "absent"), nil)
	names, err := g.AvailableDataAssetNames(context.Background())
	if err != nil {
		t.Fatalf("AvailableDataAssetNames() error = %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("AvailableDataAssetNames() = %v", names)
	}
}

func TestEmptyGenerator(t *testing.T) {
	g := NewEmptyGenerator("")
	if g.Name() != DefaultName || g.Type() != TypeMemory {
		t.Fatalf("Name()/Type() = %q/%q", g.Name(), g.Type())
	}
	names, err := g.AvailableDataAssetNames(context.Background())
	if err != nil || len(names) != 0 {
		t.Fatalf("AvailableDataAssetNames() = %v, %v", names, err)
	}
	if _, err := g.YieldBatchKwargs(context.Background(), "anything", YieldOptions{}); err == nil {
		t.Fatal("expected error yielding from an empty generator")
	}
}

type fakeLister struct {
	keys       []string
	lastPrefix string
}

func (f *fakeLister) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.lastPrefix = prefix
	out := make([]storage.ObjectInfo, 0, len(f.keys))
	for _, key := range f.keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key})
		}
	}
	return out, nil
}

func TestS3GeneratorAssets(t *testing.T) {
	lister := &fakeLister{keys: []string{
		"landing/orders/2026-01.csv",
		"landing/orders/2026-02.parquet",
		"landing/orders/deep/skip.csv",
		"landing/customers.xlsx",
		"landing/readme.md",
		"other/x.csv",
	}}
	g := NewS3Generator("lake", lister, "/landing/", nil)
	ctx := context.Background()

	names, err := g.AvailableDataAssetNames(ctx)
	if err != nil {
		t.Fatalf("AvailableDataAssetNames() error = %v", err)
	}
	if lister.lastPrefix != "landing/" {
		t.Fatalf("List prefix = %q", lister.lastPrefix)
	}
	if !reflect.DeepEqual(names, []string{"customers", "orders"}) {
		t.Fatalf("AvailableDataAssetNames() = %v", names)
	}

	typed, err := g.YieldBatchKwargs(ctx, "orders", YieldOptions{})
	if err != nil {
		t.Fatalf("YieldBatchKwargs() error = %v", err)
	}
	s3Kwargs, ok := typed.(batchkwargs.S3Kwargs)
	if !ok {
		t.Fatalf("YieldBatchKwargs() = %T, want S3Kwargs", typed)
	}
	if s3Kwargs.Key() != "landing/orders/2026-01.csv" {
		t.Fatalf("Key() = %q", s3Kwargs.Key())
	}

	ids, err := g.AvailablePartitionIDs(ctx, "orders")
	if err != nil {
		t.Fatalf("AvailablePartitionIDs() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"2026-01", "2026-02"}) {
		t.Fatalf("AvailablePartitionIDs() = %v", ids)
	}

	typed, err = g.BuildBatchKwargsFromPartitionID(ctx, "customers", "customers", YieldOptions{})
	if err != nil {
		t.Fatalf("BuildBatchKwargsFromPartitionID() error = %v", err)
	}
	if got := typed.(batchkwargs.S3Kwargs).Key(); got != "landing/customers.xlsx" {
		t.Fatalf("Key() = %q", got)
	}

	if _, err := g.YieldBatchKwargs(ctx, "readme", YieldOptions{}); err == nil {
		t.Fatal("expected error for object without a reader")
	}
}
