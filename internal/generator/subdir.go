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

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/reader"
)

const DefaultBaseDirectory = "/data"

// SubdirReaderGenerator treats every readable file in its base directory, and
// every sub-directory of readable files, as a data asset.
type SubdirReaderGenerator struct {
	base
	owner         Owner
	baseDirectory string
	readerOptions *batchkwargs.Kwargs
}

// NewSubdirReaderGenerator resolves a relative baseDirectory against the
// owner's data context root.
func NewSubdirReaderGenerator(name string, owner Owner, baseDirectory string, readerOptions *batchkwargs.Kwargs) *SubdirReaderGenerator {
	if baseDirectory == "" {
		baseDirectory = DefaultBaseDirectory
	}
	if !filepath.IsAbs(baseDirectory) && owner != nil && owner.RootDirectory() != "" {
		baseDirectory = filepath.Join(owner.RootDirectory(), baseDirectory)
	}
	if readerOptions == nil {
		readerOptions = batchkwargs.New()
	}
	g := &SubdirReaderGenerator{
		owner:         owner,
		baseDirectory: filepath.Clean(baseDirectory),
		readerOptions: readerOptions.Copy(),
	}
	g.init(name, TypeSubdirReader)
	return g
}

func (g *SubdirReaderGenerator) BaseDirectory() string {
	return g.baseDirectory
}

func (g *SubdirReaderGenerator) ReaderOptions() *batchkwargs.Kwargs {
	return g.readerOptions.Copy()
}

func (g *SubdirReaderGenerator) AvailableDataAssetNames(context.Context) ([]string, error) {
	entries, err := os.ReadDir(g.baseDirectory)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list base directory: %w", err)
	}
	names := map[string]struct{}{}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.IsDir() {
			files, err := readableFiles(filepath.Join(g.baseDirectory, entry.Name()))
			if err != nil {
				return nil, err
			}
			if len(files) > 0 {
				names[entry.Name()] = struct{}{}
			}
			continue
		}
		if _, ok := reader.FormatFor(entry.Name()); ok {
			names[stem(entry.Name())] = struct{}{}
		}
	}
	return sortedKeys(names), nil
}

func (g *SubdirReaderGenerator) YieldBatchKwargs(_ context.Context, asset string, opts YieldOptions) (batchkwargs.Typed, error) {
	kwargs, err := g.next(asset, func() ([]*batchkwargs.Kwargs, error) {
		paths, err := g.assetPaths(asset)
		if err != nil {
			return nil, err
		}
		items := make([]*batchkwargs.Kwargs, 0, len(paths))
		for _, path := range paths {
			kwargs, err := sourceKwargs(g.owner, path, g.readerOptions)
			if err != nil {
				return nil, err
			}
			items = append(items, kwargs)
		}
		return items, nil
	})
	return g.finish(kwargs, opts, err)
}

// AvailablePartitionIDs returns the file stems of the asset's files.
func (g *SubdirReaderGenerator) AvailablePartitionIDs(_ context.Context, asset string) ([]string, error) {
	paths, err := g.assetPaths(asset)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		ids = append(ids, stem(filepath.Base(path)))
	}
	return ids, nil
}

func (g *SubdirReaderGenerator) BuildBatchKwargsFromPartitionID(_ context.Context, asset, partitionID string, opts YieldOptions) (batchkwargs.Typed, error) {
	paths, err := g.assetPaths(asset)
	if err != nil {
		return g.finish(nil, opts, err)
	}
	for _, path := range paths {
		if stem(filepath.Base(path)) == partitionID {
			kwargs, err := sourceKwargs(g.owner, path, g.readerOptions)
			return g.finish(kwargs, opts, err)
		}
	}
	return g.finish(nil, opts, batchkwargs.Errorf(nil, "Unable to find partition_id %q for data asset %q", partitionID, asset))
}

// assetPaths lists the files behind asset: the readable files of a directory
// asset, or the single file matching a file asset.
func (g *SubdirReaderGenerator) assetPaths(asset string) ([]string, error) {
	if err := validateAssetName(asset); err != nil {
		return nil, err
	}
	dir := filepath.Join(g.baseDirectory, asset)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		files, err := readableFiles(dir)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return files, nil
		}
	}
	for _, extension := range reader.KnownExtensions() {
		path := filepath.Join(g.baseDirectory, asset+extension)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return []string{path}, nil
		}
	}
	return nil, batchkwargs.Errorf(nil, "No valid files found when searching %s using configured known_extensions: %s",
		dir, strings.Join(reader.KnownExtensions(), ", "))
}

func readableFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := reader.FormatFor(entry.Name()); ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
