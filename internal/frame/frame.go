package frame

import (
	"fmt"
	"strings"
)

// Frame is an in-memory table. Values are stored column-major and nil marks a
// missing value.
type Frame struct {
	names   []string
	index   map[string]int
	columns [][]any
	rows    int
}

// New builds a frame from row-major data. Every row must have len(columns) values.
func New(columns []string, rows [][]any) (*Frame, error) {
	data := make([][]any, len(columns))
	for i := range data {
		data[i] = make([]any, len(rows))
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), len(columns))
		}
		for c, value := range row {
			data[c][r] = value
		}
	}
	return FromColumns(columns, data)
}

// FromColumns builds a frame from column-major data. The slices are not copied.
func FromColumns(names []string, columns [][]any) (*Frame, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("got %d column names for %d columns", len(names), len(columns))
	}
	f := &Frame{
		names:   append([]string(nil), names...),
		index:   make(map[string]int, len(names)),
		columns: columns,
	}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, ok := f.index[name]; ok {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		f.index[name] = i
		if i == 0 {
			f.rows = len(columns[i])
			continue
		}
		if len(columns[i]) != f.rows {
			return nil, fmt.Errorf("column %q has %d values, want %d", name, len(columns[i]), f.rows)
		}
	}
	return f, nil
}

func (f *Frame) Columns() []string {
	return append([]string(nil), f.names...)
}

func (f *Frame) NumRows() int {
	return f.rows
}

func (f *Frame) NumColumns() int {
	return len(f.names)
}

func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the values of the named column. The slice is shared with the frame.
func (f *Frame) Column(name string) ([]any, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

func (f *Frame) Row(i int) []any {
	row := make([]any, len(f.columns))
	for c := range f.columns {
		row[c] = f.columns[c][i]
	}
	return row
}

// Rows returns a row-major copy of the frame data.
func (f *Frame) Rows() [][]any {
	out := make([][]any, f.rows)
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Head returns a frame holding at most the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n < 0 || n > f.rows {
		n = f.rows
	}
	columns := make([][]any, len(f.columns))
	for i, column := range f.columns {
		columns[i] = append([]any(nil), column[:n]...)
	}
	return &Frame{names: f.Columns(), index: copyIndex(f.index), columns: columns, rows: n}
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	columns := make([][]any, 0, len(names))
	for _, name := range names {
		column, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		columns = append(columns, column)
	}
	return FromColumns(names, columns)
}

// Series is a single named column.
type Series struct {
	Name   string
	Values []any
}

func (s Series) Len() int {
	return len(s.Values)
}

// ToFrame returns a one-column frame. An unnamed series becomes column "0".
func (s Series) ToFrame() *Frame {
	name := s.Name
	if name == "" {
		name = "0"
	}
	f, _ := FromColumns([]string{name}, [][]any{s.Values})
	return f
}

func copyIndex(index map[string]int) map[string]int {
	out := make(map[string]int, len(index))
	for key, value := range index {
		out[key] = value
	}
	return out
}
