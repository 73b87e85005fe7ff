// Package engine wraps an in-process DuckDB database used to run the
// pipeline's declarative transformations.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/sparkify/sparkify-etl/pkg/types"
)

// Config holds engine session settings.
type Config struct {
	// Threads caps worker threads; 0 keeps the DuckDB default.
	Threads int
	// MemoryLimit such as "4GB"; empty keeps the DuckDB default.
	MemoryLimit string
	// TempDir receives spill files; empty keeps the DuckDB default.
	TempDir string
}

// Session is one in-memory DuckDB database. All connections opened from it
// share the same catalog.
type Session struct {
	connector *duckdb.Connector
	db        *sql.DB
}

// Open creates an in-memory database and applies cfg.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	s := &Session{connector: connector, db: sql.OpenDB(connector)}

	var settings []string
	if cfg.Threads > 0 {
		settings = append(settings, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.MemoryLimit != "" {
		settings = append(settings, "SET memory_limit = "+QuoteLiteral(cfg.MemoryLimit))
	}
	if cfg.TempDir != "" {
		settings = append(settings, "SET temp_directory = "+QuoteLiteral(cfg.TempDir))
	}
	for _, stmt := range settings {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	return s, nil
}

// Close releases the database. Closing the sql.DB also closes the connector.
func (s *Session) Close() error {
	return s.db.Close()
}

// DB exposes the database handle for ad-hoc queries.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Exec runs a statement.
func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

// Count returns the number of rows query produces.
func (s *Session) Count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+query+")").Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// LoadJSON replaces table with the records in files, read with the fixed
// column set of schema. filter, when non-empty, is a WHERE condition applied
// while loading. Returns the number of rows loaded.
func (s *Session) LoadJSON(ctx context.Context, table string, files []string, schema types.Schema, filter string) (int64, error) {
	if len(files) == 0 {
		return 0, fmt.Errorf("no files to load into %s", table)
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s FROM %s",
		QuoteIdent(table), selectList(schema), ScanJSON(files, schema))
	if filter != "" {
		query += " WHERE " + filter
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", table, err)
	}
	return s.Count(ctx, "SELECT * FROM "+QuoteIdent(table))
}

// LoadParquet replaces table with the rows of the Parquet files, restoring
// hive partition columns from their directory names.
func (s *Session) LoadParquet(ctx context.Context, table string, files []string) (int64, error) {
	if len(files) == 0 {
		return 0, fmt.Errorf("no files to load into %s", table)
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet(%s, hive_partitioning = true)",
		QuoteIdent(table), fileList(files))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", table, err)
	}
	return s.Count(ctx, "SELECT * FROM "+QuoteIdent(table))
}

// CopyToParquet writes the result of query under dir. With partition columns
// the output is hive-partitioned (dir/col=value/.../part-N.parquet);
// otherwise a single dir/part-0.parquet is written.
func (s *Session) CopyToParquet(ctx context.Context, query, dir string, partitionBy []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var stmt string
	if len(partitionBy) > 0 {
		cols := make([]string, len(partitionBy))
		for i, c := range partitionBy {
			cols[i] = QuoteIdent(c)
		}
		stmt = fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, PARTITION_BY (%s), OVERWRITE_OR_IGNORE true, FILENAME_PATTERN 'part-{i}')",
			query, QuoteLiteral(filepath.ToSlash(dir)), strings.Join(cols, ", "))
	} else {
		stmt = fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)",
			query, QuoteLiteral(filepath.ToSlash(filepath.Join(dir, "part-0.parquet"))))
	}

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to write parquet to %s: %w", dir, err)
	}
	return nil
}

// Appender streams Go-built rows into an existing table through the native
// DuckDB appender.
type Appender struct {
	conn     *duckdb.Conn
	appender *duckdb.Appender
}

// NewAppender opens a dedicated connection and an appender on table.
func (s *Session) NewAppender(ctx context.Context, table string) (*Appender, error) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get native connection: %w", err)
	}
	duckConn, ok := conn.(*duckdb.Conn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("failed to cast to *duckdb.Conn")
	}

	appender, err := duckdb.NewAppenderFromConn(duckConn, "", table)
	if err != nil {
		duckConn.Close()
		return nil, fmt.Errorf("failed to create appender for %s: %w", table, err)
	}
	return &Appender{conn: duckConn, appender: appender}, nil
}

// AppendRow appends one row; values follow the table's column order.
func (a *Appender) AppendRow(values ...driver.Value) error {
	return a.appender.AppendRow(values...)
}

// Close flushes buffered rows and releases the connection.
func (a *Appender) Close() error {
	appErr := a.appender.Close()
	connErr := a.conn.Close()
	if appErr != nil {
		return fmt.Errorf("failed to flush appender: %w", appErr)
	}
	return connErr
}

// ScanJSON returns a read_json table expression over files that yields
// exactly the columns of schema. Keys missing from a record read as NULL.
func ScanJSON(files []string, schema types.Schema) string {
	return fmt.Sprintf("read_json(%s, format = 'auto', columns = %s)", fileList(files), columnsStruct(schema))
}

// QuoteIdent quotes an identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal.
func QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func fileList(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = QuoteLiteral(filepath.ToSlash(f))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func columnsStruct(schema types.Schema) string {
	parts := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		parts[i] = QuoteLiteral(c.Name) + ": " + QuoteLiteral(c.Type)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func selectList(schema types.Schema) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = QuoteIdent(c.Name)
	}
	return strings.Join(cols, ", ")
}
