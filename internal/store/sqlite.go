// ABOUTME: SQLite implementation of the relational store using modernc.org/sqlite
// ABOUTME: Owns the working database file, schema creation, seeding, snapshots and maintenance

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSeedRows is the number of synthetic rows seeded into tables created
// from an external source.
const DefaultSeedRows = 5

// SQLiteStore is the relational store backed by a single SQLite working file
type SQLiteStore struct {
	db       *sql.DB
	path     string
	seedRows int
	logger   *slog.Logger
}

// Option configures a SQLiteStore
type Option func(*SQLiteStore)

// WithSeedRows sets how many synthetic rows CreateTableFromExternalSource inserts
func WithSeedRows(n int) Option {
	return func(s *SQLiteStore) {
		if n >= 0 {
			s.seedRows = n
		}
	}
}

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if logger != nil {
			s.logger = logger.With("component", "store")
		}
	}
}

// NewSQLiteStore opens the working database at path. Any previous working
// file at path is discarded. When snapshot is non-nil its bytes become the
// database image; otherwise the database starts empty.
// Parent directories are created if needed.
func NewSQLiteStore(path string, snapshot []byte, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:     path,
		seedRows: DefaultSeedRows,
		logger:   slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale working file: %w", err)
		}
	}

	if snapshot != nil {
		if err := os.WriteFile(path, snapshot, 0644); err != nil {
			return nil, fmt.Errorf("writing snapshot: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: the engine is owned by a single executor and a second
	// connection would observe a different transaction state.
	db.SetMaxOpenConns(1)
	s.db = db

	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		if snapshot != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path, "from_snapshot", snapshot != nil, "tables", n)
	return s, nil
}

// createSchema creates the bookkeeping and auxiliary entity tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS _table_provenance (
			table_name TEXT PRIMARY KEY,
			source     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS _table_metadata (
			table_name      TEXT PRIMARY KEY,
			vector_eligible INTEGER NOT NULL DEFAULT 0,
			description     TEXT
		);

		CREATE TABLE IF NOT EXISTS connectors (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			config_json TEXT,
			status      TEXT NOT NULL DEFAULT 'inactive',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (status IN ('active', 'inactive', 'error'))
		);

		CREATE TABLE IF NOT EXISTS workflows (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			description     TEXT,
			definition_json TEXT,
			status          TEXT NOT NULL DEFAULT 'draft',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			CHECK (status IN ('draft', 'active', 'paused'))
		);

		CREATE TABLE IF NOT EXISTS dashboards (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dashboard_widgets (
			id           TEXT PRIMARY KEY,
			dashboard_id TEXT NOT NULL REFERENCES dashboards(id) ON DELETE CASCADE,
			kind         TEXT NOT NULL,
			title        TEXT NOT NULL,
			query        TEXT NOT NULL,
			position     INTEGER NOT NULL DEFAULT 0,
			config_json  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_dashboard_widgets_dashboard
			ON dashboard_widgets(dashboard_id, position);

		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			role         TEXT NOT NULL DEFAULT 'viewer',
			created_at   TEXT NOT NULL,

			CHECK (role IN ('admin', 'editor', 'viewer'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Seed populates a fresh database with the demo content the application
// ships with: a vector-eligible knowledge base and a few auxiliary records.
func (s *SQLiteStore) Seed(ctx context.Context) error {
	now := formatTime(time.Now())

	statements := []struct {
		query string
		args  []any
	}{
		{query: `CREATE TABLE IF NOT EXISTS knowledge_articles (
			id         INTEGER PRIMARY KEY,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			category   TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`},
		{
			query: `INSERT INTO knowledge_articles (title, body, category, created_at) VALUES
				('Onboarding a new connector', 'Register the source, test credentials, then schedule the first sync.', 'connectors', ?1),
				('Reading pipeline run history', 'Each workflow run records status, duration and row counts per stage.', 'workflows', ?1),
				('Building a KPI dashboard', 'Start from a saved query, pick a metric widget and pin it to a dashboard.', 'dashboards', ?1),
				('Resolving schema drift', 'When a source adds columns, recreate the landing table and re-run the sync.', 'data-quality', ?1)`,
			args: []any{now},
		},
		{query: `INSERT INTO _table_metadata (table_name, vector_eligible, description)
			VALUES ('knowledge_articles', 1, 'Internal knowledge base articles')`},
		{
			query: `INSERT INTO users (id, email, display_name, role, created_at)
				VALUES ('user-admin', 'admin@example.com', 'Administrator', 'admin', ?1)`,
			args: []any{now},
		},
		{
			query: `INSERT INTO connectors (id, name, kind, config_json, status, created_at, updated_at)
				VALUES ('connector-demo', 'Demo warehouse', 'postgres', '{"host":"localhost"}', 'inactive', ?1, ?1)`,
			args: []any{now},
		},
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
	}
	return nil
}

// SeededArticles is the number of knowledge_articles rows Seed inserts
const SeededArticles = 4

// Export returns the full database image. The bytes are accepted by
// NewSQLiteStore as a snapshot.
func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	f, err := os.CreateTemp(filepath.Dir(s.path), "export-*.db")
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	name := f.Name()
	f.Close()
	// VACUUM INTO refuses to overwrite an existing file
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("preparing export file: %w", err)
	}
	defer os.Remove(name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", name); err != nil {
		return nil, fmt.Errorf("exporting database: %w", err)
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	return data, nil
}

// Statistics reports table and row counts plus on-disk size
func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	tables, err := s.userTables(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		TableCount: len(tables),
		Tables:     make(map[string]int64, len(tables)),
	}
	for _, name := range tables {
		n, err := s.rowCount(ctx, name)
		if err != nil {
			return nil, err
		}
		stats.Tables[name] = n
		stats.TotalRows += n
	}

	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM _table_provenance").Scan(&stats.ExternalTables); err != nil {
		return nil, fmt.Errorf("counting external tables: %w", err)
	}

	stats.PageCount, stats.PageSize, err = s.pageInfo(ctx)
	if err != nil {
		return nil, err
	}
	stats.SizeBytes = stats.PageCount * stats.PageSize
	return stats, nil
}

// RunIntegrityMaintenance checks integrity, compacts the file and refreshes
// planner statistics.
func (s *SQLiteStore) RunIntegrityMaintenance(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}

	pages, size, err := s.pageInfo(ctx)
	if err != nil {
		return nil, err
	}
	report.SizeBefore = pages * size

	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, fmt.Errorf("checking integrity: %w", err)
	}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning integrity result: %w", err)
		}
		report.Integrity = append(report.Integrity, line)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("checking integrity: %w", err)
	}
	rows.Close()
	report.Healthy = len(report.Integrity) == 1 && report.Integrity[0] == "ok"

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return nil, fmt.Errorf("vacuuming: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return nil, fmt.Errorf("analyzing: %w", err)
	}

	pages, size, err = s.pageInfo(ctx)
	if err != nil {
		return nil, err
	}
	report.SizeAfter = pages * size

	s.logger.Info("integrity maintenance completed",
		"healthy", report.Healthy,
		"size_before", report.SizeBefore,
		"size_after", report.SizeAfter,
	)
	return report, nil
}

// Close releases the database handle and removes the working file
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	for _, suffix := range []string{"", "-journal"} {
		_ = os.Remove(s.path + suffix)
	}
	return err
}

// userTables lists tables visible to callers, skipping engine and bookkeeping tables
func (s *SQLiteStore) userTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table'
			AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
			AND name NOT LIKE '\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) rowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStore) pageInfo(ctx context.Context) (count, size int64, err error) {
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&count); err != nil {
		return 0, 0, fmt.Errorf("reading page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&size); err != nil {
		return 0, 0, fmt.Errorf("reading page size: %w", err)
	}
	return count, size, nil
}

// quoteIdent quotes an SQL identifier
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullString converts an empty string to NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
