package reader

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/batchkit/batchkit/internal/frame"
)

const parquetReadBatch = 256

func readParquet(src *io.SectionReader, opts Options) (*frame.Frame, error) {
	file, err := parquet.OpenFile(src, src.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	schema := file.Schema()
	paths := schema.Columns()
	names := make([]string, len(paths))
	converters := make([]func(parquet.Value) any, len(paths))
	for i, path := range paths {
		names[i] = strings.Join(path, ".")
		converters[i] = convertValue
		if leaf, ok := schema.Lookup(path...); ok {
			converters[i] = converterFor(leaf.Node)
		}
	}

	limit := opts.NRows
	columns := make([][]any, len(paths))
	read := 0
	buf := make([]parquet.Row, parquetReadBatch)

rowGroups:
	for _, rowGroup := range file.RowGroups() {
		rows := rowGroup.Rows()
		for {
			if limit >= 0 && read >= limit {
				_ = rows.Close()
				break rowGroups
			}
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				if limit >= 0 && read >= limit {
					break
				}
				appendRow(columns, row, converters)
				read++
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close parquet rows: %w", err)
		}
	}

	f, err := frame.FromColumns(names, columns)
	if err != nil {
		return nil, err
	}
	if len(opts.Columns) > 0 {
		return f.Select(opts.Columns...)
	}
	return f, nil
}

// appendRow adds one value per leaf column. Repeated leaves collect into a list.
func appendRow(columns [][]any, row parquet.Row, converters []func(parquet.Value) any) {
	cells := make([]any, len(columns))
	repeated := make([]bool, len(columns))
	for _, value := range row {
		column := value.Column()
		if column < 0 || column >= len(columns) {
			continue
		}
		converted := converters[column](value)
		if value.RepetitionLevel() > 0 || repeated[column] {
			list, ok := cells[column].([]any)
			if !ok {
				list = []any{cells[column]}
			}
			cells[column] = append(list, converted)
			repeated[column] = true
			continue
		}
		cells[column] = converted
	}
	for i := range columns {
		columns[i] = append(columns[i], cells[i])
	}
}

func converterFor(node parquet.Node) func(parquet.Value) any {
	logical := node.Type().LogicalType()
	if logical == nil || logical.Timestamp == nil {
		return convertValue
	}
	unit := time.Nanosecond
	switch {
	case logical.Timestamp.Unit.Millis != nil:
		unit = time.Millisecond
	case logical.Timestamp.Unit.Micros != nil:
		unit = time.Microsecond
	}
	return func(value parquet.Value) any {
		if value.IsNull() || value.Kind() != parquet.Int64 {
			return convertValue(value)
		}
		return time.Unix(0, value.Int64()*int64(unit)).UTC()
	}
}

func convertValue(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return int64(value.Int32())
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return float64(value.Float())
	case parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return value.String()
	}
}

// WriteParquet encodes f as a parquet file with one optional column per frame
// column. Column types come from the first non-missing value.
func WriteParquet(w io.Writer, f *frame.Frame) error {
	group := parquet.Group{}
	kinds := map[string]columnKind{}
	for _, name := range f.Columns() {
		values, _ := f.Column(name)
		kind := kindOf(values)
		kinds[name] = kind
		group[name] = parquet.Optional(kind.node())
	}
	schema := parquet.NewSchema("frame", group)

	leafIndex := map[string]int{}
	for _, name := range f.Columns() {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return fmt.Errorf("column %q missing from parquet schema", name)
		}
		leafIndex[name] = leaf.ColumnIndex
	}

	writer := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, f.NumRows())
	for r := 0; r < f.NumRows(); r++ {
		row := make(parquet.Row, f.NumColumns())
		for _, name := range f.Columns() {
			values, _ := f.Column(name)
			index := leafIndex[name]
			if values[r] == nil {
				row[index] = parquet.NullValue().Level(0, 0, index)
				continue
			}
			row[index] = kinds[name].value(values[r]).Level(0, 1, index)
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
)

func kindOf(values []any) columnKind {
	kind, seen := kindString, false
	for _, value := range values {
		if value == nil {
			continue
		}
		next := kindOfValue(value)
		if seen && next != kind {
			return kindString
		}
		kind, seen = next, true
	}
	return kind
}

func kindOfValue(value any) columnKind {
	switch value.(type) {
	case int, int32, int64:
		return kindInt
	case float32, float64:
		return kindFloat
	case bool:
		return kindBool
	case time.Time:
		return kindTime
	default:
		return kindString
	}
}

func (k columnKind) node() parquet.Node {
	switch k {
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	case kindTime:
		return parquet.Timestamp(parquet.Nanosecond)
	default:
		return parquet.String()
	}
}

func (k columnKind) value(v any) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	switch k {
	case kindInt:
		switch typed := v.(type) {
		case int:
			return parquet.Int64Value(int64(typed))
		case int32:
			return parquet.Int64Value(int64(typed))
		case int64:
			return parquet.Int64Value(typed)
		}
	case kindFloat:
		switch typed := v.(type) {
		case float32:
			return parquet.DoubleValue(float64(typed))
		case float64:
			return parquet.DoubleValue(typed)
		}
	case kindBool:
		if typed, ok := v.(bool); ok {
			return parquet.BooleanValue(typed)
		}
	case kindTime:
		if typed, ok := v.(time.Time); ok {
			return parquet.Int64Value(typed.UnixNano())
		}
	}
	return parquet.ByteArrayValue([]byte(fmt.Sprint(v)))
}
