// ABOUTME: Creates tables that stand in for data landed from an external source
// ABOUTME: Validates the name, records provenance and seeds type-appropriate synthetic rows

package store

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidIdentifier reports whether name is safe to use as a table name
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// CreateTableFromExternalSource creates table name with the given column
// definitions, records source as its provenance and seeds synthetic rows.
// Invalid names and column definitions are rejected before the engine is
// touched. If anything fails after the table was created, the table and its
// provenance record are removed and the original error is returned.
func (s *SQLiteStore) CreateTableFromExternalSource(ctx context.Context, name, columnSpec, source string) error {
	if !ValidIdentifier(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	if strings.TrimSpace(columnSpec) == "" {
		return fmt.Errorf("%w: table %s: column definitions are required", ErrInvalidIdentifier, name)
	}
	// The driver runs every statement in the string
	if strings.Contains(columnSpec, ";") {
		return fmt.Errorf("%w: table %s: column definitions may not contain ';'", ErrInvalidIdentifier, name)
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), columnSpec)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}

	if err := s.recordAndSeed(ctx, name, source); err != nil {
		s.dropCreated(ctx, name)
		return err
	}

	s.logger.Info("created table from external source",
		"table", name,
		"source", source,
		"seed_rows", s.seedRows,
	)
	return nil
}

func (s *SQLiteStore) recordAndSeed(ctx context.Context, name, source string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO _table_provenance (table_name, source, created_at) VALUES (?, ?, ?)",
		name, source, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("recording provenance for %s: %w", name, err)
	}

	cols, err := s.tableColumns(ctx, name)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}

	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(names, ", "), strings.Join(marks, ", "))

	for n := 1; n <= s.seedRows; n++ {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = syntheticValue(c, n)
		}
		if _, err := s.db.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("seeding %s: %w", name, err)
		}
	}
	return nil
}

// dropCreated removes a partially created table and its provenance record.
// Failures are logged; the caller reports the original error.
func (s *SQLiteStore) dropCreated(ctx context.Context, name string) {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		s.logger.Warn("cleanup: dropping table failed", "table", name, "error", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM _table_provenance WHERE table_name = ?", name); err != nil {
		s.logger.Warn("cleanup: deleting provenance failed", "table", name, "error", err)
	}
}

// syntheticValue picks a seed value by the column's type affinity.
// Primary key columns get the row number so seeded rows never collide.
func syntheticValue(c ColumnInfo, n int) any {
	switch affinity(c.Type) {
	case affinityInteger:
		if c.PrimaryKey {
			return int64(n)
		}
		return rand.Int64N(1000)
	case affinityReal:
		return math.Round(rand.Float64()*100000) / 100
	case affinityText:
		if c.PrimaryKey {
			return fmt.Sprintf("%s-%d", c.Name, n)
		}
		return fmt.Sprintf("%s %d", c.Name, n)
	default:
		return nil
	}
}

type typeAffinity int

const (
	affinityBlob typeAffinity = iota
	affinityInteger
	affinityReal
	affinityText
)

// affinity applies SQLite's column affinity rules to a declared type
func affinity(declared string) typeAffinity {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return affinityInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return affinityText
	case t == "", strings.Contains(t, "BLOB"):
		return affinityBlob
	default:
		// REAL, FLOA, DOUB and NUMERIC-family types all take decimals
		return affinityReal
	}
}
