package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/dataset"
	"github.com/batchkit/batchkit/internal/frame"
	"github.com/batchkit/batchkit/internal/generator"
	"github.com/batchkit/batchkit/internal/observability"
)

// SQLDatasource runs query and table batch kwargs against a database.
type SQLDatasource struct {
	base
	db           *sql.DB
	ownsDB       bool
	queryTimeout time.Duration
}

// NewSQLDatasource uses opts.DB when set and otherwise opens cfg.Driver with
// cfg.DSN. Without configured generators it gets a "default" queries
// generator.
func NewSQLDatasource(ctx context.Context, name string, cfg Config, opts Options) (*SQLDatasource, error) {
	if name == "" {
		name = TypeSQL
	}
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w", name, err)
	}
	cfg.Driver = driver
	if len(cfg.Generators) == 0 {
		cfg.Generators = map[string]GeneratorConfig{
			generator.DefaultName: {Type: generator.TypeQueries},
		}
	}

	d := &SQLDatasource{db: opts.DB, queryTimeout: opts.QueryTimeout}
	if d.db == nil {
		dbCfg := opts.SQL
		dbCfg.Driver = cfg.Driver
		dbCfg.DSN = cfg.DSN
		db, err := Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("datasource %s: %w", name, err)
		}
		d.db = db
		d.ownsDB = true
	}
	d.init(name, TypeSQL, opts.RootDirectory, cfg, opts.Logger, d.buildGenerator)
	if err := d.buildGenerators(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLDatasource) buildGenerator(name string, cfg GeneratorConfig) (generator.Generator, error) {
	switch cfg.Type {
	case generator.TypeQueries:
		return generator.NewQueryGenerator(name, d, cfg.Queries), nil
	default:
		return nil, fmt.Errorf("Unrecognized BatchGenerator type %s", cfg.Type)
	}
}

func (d *SQLDatasource) DB() *sql.DB {
	return d.db
}

// BuildBatchKwargs merges extra with a query entry for a string source and a
// timestamp.
func (d *SQLDatasource) BuildBatchKwargs(source any, extra *batchkwargs.Kwargs) (*batchkwargs.Kwargs, error) {
	kwargs := batchkwargs.New()
	if extra != nil {
		kwargs.Update(extra)
	}
	switch typed := source.(type) {
	case nil:
	case string:
		kwargs.Set(batchkwargs.KeyQuery, typed)
	default:
		return nil, batchkwargs.Errorf(kwargs, "Unable to build batch kwargs from %T: expected a query", source)
	}
	kwargs.Set(batchkwargs.KeyTimestamp, batchkwargs.Timestamp(time.Now()))
	return kwargs, nil
}

func (d *SQLDatasource) GetBatch(ctx context.Context, req BatchRequest) (*dataset.Dataset, error) {
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

func (d *SQLDatasource) load(ctx context.Context, kwargs *batchkwargs.Kwargs) (batchkwargs.Kind, *frame.Frame, error) {
	var (
		kind    batchkwargs.Kind
		sqlText string
	)
	switch {
	case kwargs.Has(batchkwargs.KeyQuery):
		kind = batchkwargs.KindQuery
		query, ok := kwargs.GetString(batchkwargs.KeyQuery)
		if !ok {
			return kind, nil, batchkwargs.NewError("Invalid batch_kwargs: query must be a string", kwargs)
		}
		sqlText = stripTrailingSemicolons(query)
		if sqlText == "" {
			return kind, nil, batchkwargs.NewError("Invalid batch_kwargs: query is empty", kwargs)
		}
	case kwargs.Has(batchkwargs.KeyTable):
		kind = batchkwargs.KindTable
		table, ok := kwargs.GetString(batchkwargs.KeyTable)
		if !ok || strings.TrimSpace(table) == "" {
			return kind, nil, batchkwargs.NewError("Invalid batch_kwargs: table must be a non-empty string", kwargs)
		}
		sqlText = "SELECT * FROM " + quoteIdent(table)
		if schema, ok := kwargs.GetString(batchkwargs.KeySchema); ok && schema != "" {
			sqlText = "SELECT * FROM " + quoteIdent(schema) + "." + quoteIdent(table)
		}
	default:
		return batchkwargs.KindQuery, nil, batchkwargs.NewError("Invalid batch_kwargs: query or table is required for a SQLDatasource", kwargs)
	}

	if value, ok := kwargs.Get(batchkwargs.KeyLimit); ok && value != nil {
		limit, err := toLimit(value)
		if err != nil {
			return kind, nil, batchkwargs.Errorf(kwargs, "Invalid batch_kwargs: %v", err)
		}
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, limit)
	}

	if d.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.queryTimeout)
		defer cancel()
	}

	rows, err := d.db.QueryContext(ctx, sqlText)
	if err != nil {
		return kind, nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return kind, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return kind, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return kind, nil, fmt.Errorf("iterate rows: %w", err)
	}

	f, err := frame.New(uniqueColumns(columns), resultRows)
	if err != nil {
		return kind, nil, err
	}
	return kind, f, nil
}

func (d *SQLDatasource) Close() error {
	if d.ownsDB && d.db != nil {
		return d.db.Close()
	}
	return nil
}

func toLimit(value any) (int64, error) {
	var limit int64
	switch typed := value.(type) {
	case int:
		limit = int64(typed)
	case int64:
		limit = typed
	case float64:
		if typed != float64(int64(typed)) {
			return 0, fmt.Errorf("limit must be an integer, got %v", typed)
		}
		limit = int64(typed)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("limit must be an integer, got %q", typed)
		}
		limit = parsed
	default:
		return 0, fmt.Errorf("limit must be an integer, got %T", value)
	}
	if limit < 0 {
		return 0, fmt.Errorf("limit must be >= 0, got %d", limit)
	}
	return limit, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case int32:
			normalized[i] = int64(typed)
		case int:
			normalized[i] = int64(typed)
		case float32:
			normalized[i] = float64(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// uniqueColumns suffixes repeated result column names with .1, .2 and so on.
func uniqueColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	out := make([]string, len(columns))
	for i, name := range columns {
		if count, ok := seen[name]; ok {
			seen[name] = count + 1
			out[i] = fmt.Sprintf("%s.%d", name, count+1)
			continue
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
