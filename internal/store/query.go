// ABOUTME: Query execution and catalog introspection for the relational store
// ABOUTME: Classifies statements by leading keyword and materializes rows as column maps

package store

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"
)

// mutatingVerbs are the leading keywords of statements that change schema or data
var mutatingVerbs = map[string]bool{
	"INSERT":  true,
	"UPDATE":  true,
	"DELETE":  true,
	"CREATE":  true,
	"DROP":    true,
	"ALTER":   true,
	"VACUUM":  true,
	"REPLACE": true,
}

// IsMutating reports whether the statement's leading keyword changes schema or data.
// Leading whitespace, comments and parentheses are skipped.
func IsMutating(query string) bool {
	return mutatingVerbs[leadingKeyword(query)]
}

// leadingKeyword returns the first SQL keyword of query, upper-cased
func leadingKeyword(query string) string {
	s := query
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s[2:], "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+4:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
			if end < 0 {
				end = len(s)
			}
			return strings.ToUpper(s[:end])
		}
	}
}

// ExecuteQuery runs a single statement. Non-mutating statements return every
// matched row; mutating statements return no rows. Engine failures are
// reported in QueryResult.Error and never returned as a Go error.
func (s *SQLiteStore) ExecuteQuery(ctx context.Context, query string, params []any) QueryResult {
	if strings.TrimSpace(query) == "" {
		return errorResult("empty query")
	}

	if IsMutating(query) {
		res, err := s.db.ExecContext(ctx, query, params...)
		if err != nil {
			return errorResult(err.Error())
		}
		affected, _ := res.RowsAffected()
		return QueryResult{
			Columns:      []string{},
			Rows:         []Row{},
			Mutating:     true,
			RowsAffected: affected,
		}
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return errorResult(err.Error())
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, params...)
	if err != nil {
		return errorResult(err.Error())
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errorResult(err.Error())
	}
	out, err := scanRows(rows, cols)
	if err != nil {
		return errorResult(err.Error())
	}

	// Headers come from the first row, so an empty result has none
	columns := []string{}
	if len(out) > 0 {
		columns = uniqueColumns(cols)
	}
	return QueryResult{Columns: columns, Rows: out}
}

func errorResult(msg string) QueryResult {
	return QueryResult{Columns: []string{}, Rows: []Row{}, Error: msg}
}

// scanRows materializes every row as a column-name map
func scanRows(rows *sql.Rows, cols []string) ([]Row, error) {
	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			// Later duplicates win, matching map semantics of the row
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// uniqueColumns drops repeated column names while preserving order, so the
// header list matches the keys of a materialized row.
func uniqueColumns(cols []string) []string {
	seen := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// SchemaSummary describes every user-visible table with its columns,
// provenance tag and vector eligibility.
func (s *SQLiteStore) SchemaSummary(ctx context.Context) (map[string]TableSummary, error) {
	tables, err := s.userTables(ctx)
	if err != nil {
		return nil, err
	}

	provenance, err := s.provenance(ctx)
	if err != nil {
		return nil, err
	}
	eligible, err := s.vectorEligibleTables(ctx)
	if err != nil {
		return nil, err
	}

	summary := make(map[string]TableSummary, len(tables))
	for _, name := range tables {
		cols, err := s.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		count, err := s.rowCount(ctx, name)
		if err != nil {
			return nil, err
		}
		ts := TableSummary{
			Columns:        cols,
			RowCount:       count,
			VectorEligible: eligible[name],
		}
		if src, ok := provenance[name]; ok {
			ts.Source = &src
		}
		summary[name] = ts
	}
	return summary, nil
}

// tableColumns reads the declared columns of a table
func (s *SQLiteStore) tableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type, \"notnull\", pk FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var notNull, pk int
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		c.NotNull = notNull != 0
		c.PrimaryKey = pk != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *SQLiteStore) provenance(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT table_name, source FROM _table_provenance")
	if err != nil {
		return nil, fmt.Errorf("reading provenance: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var table, source string
		if err := rows.Scan(&table, &source); err != nil {
			return nil, fmt.Errorf("scanning provenance: %w", err)
		}
		out[table] = source
	}
	return out, rows.Err()
}

func (s *SQLiteStore) vectorEligibleTables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT table_name FROM _table_metadata WHERE vector_eligible = 1 ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("reading table metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scanning table metadata: %w", err)
		}
		out[table] = true
	}
	return out, rows.Err()
}

// tableExists reports whether a table with the given name exists
func (s *SQLiteStore) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// SetVectorEligible flags or unflags a table as a source for the similarity index
func (s *SQLiteStore) SetVectorEligible(ctx context.Context, table string, eligible bool) error {
	if !ValidIdentifier(table) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s: %w", table, ErrNotFound)
	}

	flag := 0
	if eligible {
		flag = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO _table_metadata (table_name, vector_eligible) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET vector_eligible = excluded.vector_eligible`,
		table, flag,
	)
	if err != nil {
		return fmt.Errorf("updating table metadata: %w", err)
	}
	return nil
}

// VectorEligibleRows returns every row of every vector-eligible table.
// Flagged tables that no longer exist are skipped.
func (s *SQLiteStore) VectorEligibleRows(ctx context.Context) ([]EligibleRow, error) {
	eligible, err := s.vectorEligibleTables(ctx)
	if err != nil {
		return nil, err
	}

	var out []EligibleRow
	for _, table := range slices.Sorted(maps.Keys(eligible)) {
		exists, err := s.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			s.logger.Warn("vector-eligible table missing", "table", table)
			continue
		}
		rows, err := s.tableRows(ctx, table)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *SQLiteStore) tableRows(ctx context.Context, table string) ([]EligibleRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT rowid, * FROM "+quoteIdent(table)+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("reading rows of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	// The first column is the rowid; SQLite may report it under an alias
	dataCols := cols[1:]

	var out []EligibleRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row of %s: %w", table, err)
		}
		rowID, _ := vals[0].(int64)
		values := make(map[string]any, len(dataCols))
		for i, c := range dataCols {
			values[c] = vals[i+1]
		}
		out = append(out, EligibleRow{
			Table:   table,
			RowID:   rowID,
			Values:  values,
			Columns: dataCols,
		})
	}
	return out, rows.Err()
}
