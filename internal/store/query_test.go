// ABOUTME: Tests for query execution, statement classification and table creation
// ABOUTME: Covers row materialization, structured errors, provenance and cleanup on failure

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMutating(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT * FROM t", false},
		{"  select 1", false},
		{"PRAGMA table_info(t)", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"EXPLAIN QUERY PLAN SELECT 1", false},
		{"INSERT INTO t VALUES (1)", true},
		{"insert into t values (1)", true},
		{"UPDATE t SET a = 1", true},
		{"DELETE FROM t", true},
		{"CREATE TABLE t (a)", true},
		{"DROP TABLE t", true},
		{"ALTER TABLE t ADD COLUMN b", true},
		{"VACUUM", true},
		{"REPLACE INTO t VALUES (1)", true},
		{"\n\t  -- comment\nINSERT INTO t VALUES (1)", true},
		{"/* block */ DELETE FROM t", true},
		{"(SELECT 1)", false},
		{"", false},
		{"-- only a comment", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMutating(tt.query))
		})
	}
}

func TestExecuteQuery_HeadersMatchFirstRow(t *testing.T) {
	s := newSeededStore(t)

	res := s.ExecuteQuery(context.Background(), "SELECT id, title, category FROM knowledge_articles ORDER BY id", nil)
	require.True(t, res.OK(), res.Error)

	require.Len(t, res.Rows, SeededArticles)
	assert.Equal(t, []string{"id", "title", "category"}, res.Columns)
	assert.Len(t, res.Rows[0], len(res.Columns))
	for _, col := range res.Columns {
		assert.Contains(t, res.Rows[0], col)
	}
	assert.False(t, res.Mutating)
}

func TestExecuteQuery_EmptyResultHasNoHeaders(t *testing.T) {
	s := newSeededStore(t)

	res := s.ExecuteQuery(context.Background(), "SELECT * FROM knowledge_articles WHERE id < 0", nil)
	require.True(t, res.OK(), res.Error)
	assert.Empty(t, res.Columns)
	assert.Empty(t, res.Rows)
	assert.NotNil(t, res.Rows)
}

func TestExecuteQuery_BindsParams(t *testing.T) {
	s := newSeededStore(t)

	res := s.ExecuteQuery(context.Background(),
		"SELECT title FROM knowledge_articles WHERE category = ? OR category = ? ORDER BY id",
		[]any{"connectors", "workflows"})
	require.True(t, res.OK(), res.Error)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Onboarding a new connector", res.Rows[0]["title"])
}

func TestExecuteQuery_DuplicateColumnNames(t *testing.T) {
	s := newTestStore(t)

	res := s.ExecuteQuery(context.Background(), "SELECT 1 AS a, 2 AS a, 3 AS b", nil)
	require.True(t, res.OK(), res.Error)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"a", "b"}, res.Columns)
	assert.Len(t, res.Rows[0], 2)
}

func TestExecuteQuery_MutatingReturnsNoRows(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	res := s.ExecuteQuery(ctx, "UPDATE knowledge_articles SET category = 'misc'", nil)
	require.True(t, res.OK(), res.Error)
	assert.True(t, res.Mutating)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Columns)
	assert.Equal(t, int64(SeededArticles), res.RowsAffected)

	check := s.ExecuteQuery(ctx, "SELECT DISTINCT category FROM knowledge_articles", nil)
	require.True(t, check.OK(), check.Error)
	require.Len(t, check.Rows, 1)
	assert.Equal(t, "misc", check.Rows[0]["category"])
}

func TestExecuteQuery_ErrorsAreValues(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
	}{
		{"syntax", "SELEC * FROM knowledge_articles"},
		{"missing table", "SELECT * FROM no_such_table"},
		{"failing mutation", "INSERT INTO no_such_table VALUES (1)"},
		{"empty", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ExecuteQuery(ctx, tt.query, nil)
			assert.False(t, res.OK())
			assert.NotEmpty(t, res.Error)
			assert.Empty(t, res.Rows)
		})
	}
}

func TestCreateTableFromExternalSource(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTableFromExternalSource(ctx, "por_widgets", "id INTEGER, label TEXT", "POR"))

	summary, err := s.SchemaSummary(ctx)
	require.NoError(t, err)

	table, ok := summary["por_widgets"]
	require.True(t, ok)
	require.NotNil(t, table.Source)
	assert.Equal(t, "POR", *table.Source)
	assert.Equal(t, int64(DefaultSeedRows), table.RowCount)
	require.Len(t, table.Columns, 2)
	assert.Equal(t, "id", table.Columns[0].Name)
	assert.Equal(t, "INTEGER", table.Columns[0].Type)

	res := s.ExecuteQuery(ctx, "SELECT label FROM por_widgets ORDER BY rowid", nil)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "label 1", res.Rows[0]["label"])
}

func TestCreateTableFromExternalSource_SyntheticValuesByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTableFromExternalSource(ctx, "mixed",
		"code TEXT PRIMARY KEY, qty INTEGER, price REAL, payload BLOB", "ERP"))

	res := s.ExecuteQuery(ctx, "SELECT code, qty, price, payload FROM mixed ORDER BY rowid", nil)
	require.True(t, res.OK(), res.Error)
	require.Len(t, res.Rows, DefaultSeedRows)

	first := res.Rows[0]
	assert.Equal(t, "code-1", first["code"])
	assert.IsType(t, int64(0), first["qty"])
	assert.IsType(t, float64(0), first["price"])
	assert.Nil(t, first["payload"])
}

func TestCreateTableFromExternalSource_WithSeedRows(t *testing.T) {
	s, err := NewSQLiteStore(t.TempDir()+"/work.db", nil, WithSeedRows(2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateTableFromExternalSource(context.Background(), "small", "id INTEGER PRIMARY KEY", "X"))

	stats, err := s.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Tables["small"])
}

func TestCreateTableFromExternalSource_InvalidIdentifier(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	before, err := s.Statistics(ctx)
	require.NoError(t, err)

	for _, name := range []string{"bad name!", "", "t; DROP TABLE users", "naïve", "a-b"} {
		err := s.CreateTableFromExternalSource(ctx, name, "id INTEGER", "X")
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, name)
	}

	after, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TableCount, after.TableCount)
	assert.Equal(t, 0, after.ExternalTables)
}

func TestCreateTableFromExternalSource_RejectsStackedStatements(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	for _, columns := range []string{"id INTEGER); DROP TABLE users; --", "   ", "id INTEGER; "} {
		err := s.CreateTableFromExternalSource(ctx, "sneaky", columns, "X")
		assert.ErrorIs(t, err, ErrInvalidIdentifier, columns)
	}

	summary, err := s.SchemaSummary(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "users")
	assert.NotContains(t, summary, "sneaky")
}

func TestCreateTableFromExternalSource_CleansUpOnSeedFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A CHECK constraint no synthetic value satisfies makes seeding fail
	err := s.CreateTableFromExternalSource(ctx, "strict", "id INTEGER PRIMARY KEY, v TEXT CHECK (v = 'never')", "X")
	require.Error(t, err)

	summary, err := s.SchemaSummary(ctx)
	require.NoError(t, err)
	assert.NotContains(t, summary, "strict")

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ExternalTables)
}

func TestCreateTableFromExternalSource_ExistingTableUntouched(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	err := s.CreateTableFromExternalSource(ctx, "knowledge_articles", "id INTEGER", "X")
	require.Error(t, err)

	summary, err := s.SchemaSummary(ctx)
	require.NoError(t, err)
	require.Contains(t, summary, "knowledge_articles")
	assert.Equal(t, int64(SeededArticles), summary["knowledge_articles"].RowCount)
}

func TestSetVectorEligible(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTableFromExternalSource(ctx, "notes", "id INTEGER PRIMARY KEY, title TEXT", "CRM"))
	require.NoError(t, s.SetVectorEligible(ctx, "notes", true))

	rows, err := s.VectorEligibleRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, SeededArticles+DefaultSeedRows)

	// Sorted by table name, then rowid
	assert.Equal(t, "knowledge_articles", rows[0].Table)
	assert.Equal(t, int64(1), rows[0].RowID)
	assert.Equal(t, "notes", rows[len(rows)-1].Table)
	assert.Equal(t, []string{"id", "title"}, rows[len(rows)-1].Columns)

	require.NoError(t, s.SetVectorEligible(ctx, "notes", false))
	rows, err = s.VectorEligibleRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, SeededArticles)
}

func TestSetVectorEligible_Errors(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.SetVectorEligible(ctx, "bad name", true), ErrInvalidIdentifier)
	assert.ErrorIs(t, s.SetVectorEligible(ctx, "missing", true), ErrNotFound)
}

func TestVectorEligibleRows_SkipsDroppedTables(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	res := s.ExecuteQuery(ctx, "DROP TABLE knowledge_articles", nil)
	require.True(t, res.OK(), res.Error)

	rows, err := s.VectorEligibleRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
