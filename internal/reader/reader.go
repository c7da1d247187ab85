package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/batchkit/batchkit/internal/frame"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
	FormatExcel   Format = "excel"
)

// ErrNoReader is returned for paths whose extension has no reader.
var ErrNoReader = errors.New("no available reader")

var extensions = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatTSV,
	".parquet": FormatParquet,
	".xls":     FormatExcel,
	".xlsx":    FormatExcel,
}

// KnownExtensions lists every extension a reader exists for, in a fixed order.
func KnownExtensions() []string {
	return []string{".csv", ".tsv", ".parquet", ".xls", ".xlsx"}
}

// FormatFor picks the reader for name by extension.
func FormatFor(name string) (Format, bool) {
	format, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return format, ok
}

// ReadFile opens path and reads it with the reader matching its extension.
func ReadFile(path string, opts Options) (*frame.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	return Read(path, io.NewSectionReader(file, 0, info.Size()), opts)
}

// Read decodes src using the reader for name's extension.
func Read(name string, src *io.SectionReader, opts Options) (*frame.Frame, error) {
	format, ok := FormatFor(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNoReader)
	}
	switch format {
	case FormatCSV, FormatTSV:
		return readCSV(src, opts)
	case FormatParquet:
		return readParquet(src, opts)
	case FormatExcel:
		if strings.EqualFold(filepath.Ext(name), ".xls") {
			return nil, fmt.Errorf("%q: legacy .xls workbooks are not supported, save as .xlsx", name)
		}
		return readExcel(src, opts)
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrNoReader)
	}
}

// tabulate turns text records into a frame, applying the options shared by the
// CSV and Excel readers.
func tabulate(records [][]string, opts Options) (*frame.Frame, error) {
	if opts.SkipRows >= len(records) {
		records = nil
	} else {
		records = records[opts.SkipRows:]
	}
	if len(records) == 0 && len(opts.Names) == 0 {
		return nil, fmt.Errorf("no columns to parse from file")
	}

	var names []string
	data := records
	if opts.Header >= 0 {
		if opts.Header >= len(records) {
			return nil, fmt.Errorf("header row %d is past the end of the file", opts.Header)
		}
		names = headerNames(records[opts.Header])
		data = records[opts.Header+1:]
	}
	if len(opts.Names) > 0 {
		names = append([]string(nil), opts.Names...)
	}

	width := len(names)
	for _, record := range data {
		if len(record) <= width {
			continue
		}
		if names != nil {
			return nil, fmt.Errorf("expected %d fields, saw %d", width, len(record))
		}
		width = len(record)
	}
	for i := len(names); i < width; i++ {
		names = append(names, fmt.Sprint(i))
	}

	if opts.NRows >= 0 && opts.NRows < len(data) {
		data = data[:opts.NRows]
	}

	na := frame.NewNASet(opts.NAValues...)
	columns := make([][]any, len(names))
	for c := range names {
		raw := make([]string, len(data))
		for r, record := range data {
			if c < len(record) {
				raw[r] = record[c]
			}
		}
		columns[c] = frame.InferColumn(raw, na)
	}

	f, err := frame.FromColumns(names, columns)
	if err != nil {
		return nil, err
	}
	if len(opts.UseCols) > 0 {
		return f.Select(opts.UseCols...)
	}
	return f, nil
}

// headerNames fills blank names and de-duplicates repeated ones.
func headerNames(record []string) []string {
	names := make([]string, len(record))
	seen := map[string]int{}
	for i, raw := range record {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if count, ok := seen[name]; ok {
			seen[name] = count + 1
			name = fmt.Sprintf("%s.%d", name, count+1)
		} else {
			seen[name] = 0
		}
		names[i] = name
	}
	return names
}
