package reader

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/batchkit/batchkit/internal/batchkwargs"
)

// Options controls how a file becomes a frame. The zero value is not meaningful;
// use ParseOptions or DefaultOptions.
type Options struct {
	Separator rune
	Comment   rune
	// Header is the row index holding column names; -1 means the file has none.
	Header    int
	Names     []string
	UseCols   []string
	Columns   []string
	SkipRows  int
	NRows     int
	NAValues  []string
	Sheet     string
	SheetIdx  int
	headerSet bool
}

func DefaultOptions(format Format) Options {
	opts := Options{Separator: ',', Header: 0, NRows: -1}
	if format == FormatTSV {
		opts.Separator = '\t'
	}
	return opts
}

var allowedOptions = map[Format][]string{
	FormatCSV:     {"sep", "delimiter", "header", "names", "usecols", "skiprows", "nrows", "na_values", "comment"},
	FormatTSV:     {"sep", "delimiter", "header", "names", "usecols", "skiprows", "nrows", "na_values", "comment"},
	FormatParquet: {"columns", "nrows"},
	FormatExcel:   {"sheet_name", "header", "names", "usecols", "skiprows", "nrows", "na_values"},
}

// ParseOptions reads reader options out of batch kwargs. Options the reader
// does not understand are rejected.
func ParseOptions(format Format, kwargs *batchkwargs.Kwargs) (Options, error) {
	opts := DefaultOptions(format)
	allowed, ok := allowedOptions[format]
	if !ok {
		return Options{}, fmt.Errorf("unsupported format %q", format)
	}
	for _, key := range kwargs.Keys() {
		if !slices.Contains(allowed, key) {
			return Options{}, fmt.Errorf("%s reader got an unexpected option %q", format, key)
		}
		value, _ := kwargs.Get(key)
		if err := opts.apply(key, value); err != nil {
			return Options{}, fmt.Errorf("invalid reader option %q: %w", key, err)
		}
	}
	if len(opts.Names) > 0 && !opts.headerSet {
		opts.Header = -1
	}
	return opts, nil
}

func (o *Options) apply(key string, value any) error {
	switch key {
	case "sep", "delimiter":
		s, ok := value.(string)
		if !ok || utf8.RuneCountInString(s) != 1 {
			return fmt.Errorf("must be a single character, got %v", value)
		}
		o.Separator, _ = utf8.DecodeRuneInString(s)
	case "comment":
		s, ok := value.(string)
		if !ok || utf8.RuneCountInString(s) != 1 {
			return fmt.Errorf("must be a single character, got %v", value)
		}
		o.Comment, _ = utf8.DecodeRuneInString(s)
	case "header":
		o.headerSet = true
		if value == nil {
			o.Header = -1
			return nil
		}
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must be >= 0")
		}
		o.Header = n
	case "names":
		names, err := toStrings(value)
		if err != nil {
			return err
		}
		o.Names = names
	case "usecols":
		cols, err := toStrings(value)
		if err != nil {
			return err
		}
		o.UseCols = cols
	case "columns":
		cols, err := toStrings(value)
		if err != nil {
			return err
		}
		o.Columns = cols
	case "skiprows":
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must be >= 0")
		}
		o.SkipRows = n
	case "nrows":
		if value == nil {
			o.NRows = -1
			return nil
		}
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must be >= 0")
		}
		o.NRows = n
	case "na_values":
		values, err := toStrings(value)
		if err != nil {
			return err
		}
		o.NAValues = values
	case "sheet_name":
		switch typed := value.(type) {
		case string:
			o.Sheet = typed
		default:
			n, err := toInt(value)
			if err != nil {
				return err
			}
			o.SheetIdx = n
		}
	}
	return nil
}

func toInt(value any) (int, error) {
	switch typed := value.(type) {
	case int:
		return typed, nil
	case int32:
		return int(typed), nil
	case int64:
		return int(typed), nil
	case float64:
		if typed != math.Trunc(typed) {
			return 0, fmt.Errorf("must be an integer, got %v", typed)
		}
		return int(typed), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", typed)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", value)
	}
}

func toStrings(value any) ([]string, error) {
	switch typed := value.(type) {
	case string:
		return []string{typed}, nil
	case []string:
		return append([]string(nil), typed...), nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				s = fmt.Sprint(item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a list of strings, got %T", value)
	}
}
