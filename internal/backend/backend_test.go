// ABOUTME: Tests for the execution backend lifecycle, dispatch and snapshot scheduling
// ABOUTME: Uses a recording snapshotter and the real durability manager

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-dataengine/internal/config"
	"github.com/2389/coven-dataengine/internal/durability"
	"github.com/2389/coven-dataengine/internal/store"
	"github.com/2389/coven-dataengine/internal/vector"
)

// recordingSnapshots keeps the latest exported image in memory
type recordingSnapshots struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	enabled bool
	image   []byte
	saves   int
}

func (r *recordingSnapshots) Enabled() bool { return r.enabled }

func (r *recordingSnapshots) Load(context.Context) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.image
}

func (r *recordingSnapshots) SaveAsync(export durability.ExportFunc) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		data, err := export(context.Background())
		if err != nil {
			return
		}
		r.mu.Lock()
		r.image = data
		r.saves++
		r.mu.Unlock()
	}()
}

func (r *recordingSnapshots) Wait() { r.wg.Wait() }

func (r *recordingSnapshots) saveCount() int {
	r.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func engineConfig(t *testing.T) config.EngineConfig {
	t.Helper()
	cfg := config.Default().Engine
	cfg.WorkDir = t.TempDir()
	cfg.VectorDimension = 32
	return cfg
}

func newTestBackend(t *testing.T) (*Backend, *recordingSnapshots) {
	t.Helper()
	snaps := &recordingSnapshots{enabled: true}
	b := New(engineConfig(t), snaps, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b, snaps
}

func newInitializedBackend(t *testing.T) (*Backend, *recordingSnapshots) {
	t.Helper()
	b, snaps := newTestBackend(t)
	_, err := b.Initialize(context.Background(), nil)
	require.NoError(t, err)
	return b, snaps
}

func staticCount(t *testing.T) int {
	t.Helper()
	docs, err := vector.StaticCorpus()
	require.NoError(t, err)
	return len(docs)
}

func TestInitialize_Fresh(t *testing.T) {
	b, snaps := newTestBackend(t)

	st, err := b.Initialize(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, st.Initialized)
	assert.Equal(t, OriginFresh, st.Origin)
	assert.True(t, st.Durable)
	assert.Equal(t, staticCount(t)+store.SeededArticles, st.Documents)
	assert.Equal(t, 1, snaps.saveCount(), "fresh seed is persisted")
}

func TestInitialize_IsIdempotent(t *testing.T) {
	b, snaps := newInitializedBackend(t)
	ctx := context.Background()

	first, err := b.Initialize(ctx, nil)
	require.NoError(t, err)
	second, err := b.Initialize(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	res, err := b.ExecuteQuery(ctx, "SELECT count(*) AS n FROM knowledge_articles", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(store.SeededArticles), res.Rows[0]["n"], "seeded exactly once")
	assert.Equal(t, 1, snaps.saveCount())
}

func TestInitialize_FromSnapshot(t *testing.T) {
	src, _ := newInitializedBackend(t)
	ctx := context.Background()

	_, err := src.ExecuteQuery(ctx, "INSERT INTO knowledge_articles (title, body, category, created_at) VALUES ('Extra', 'x', 'misc', 'now')", nil)
	require.NoError(t, err)
	image, err := src.ExportSnapshot(ctx)
	require.NoError(t, err)

	dst, _ := newTestBackend(t)
	st, err := dst.Initialize(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, OriginSnapshot, st.Origin)
	assert.Equal(t, staticCount(t)+store.SeededArticles+1, st.Documents)

	want, err := src.SchemaSummary(ctx)
	require.NoError(t, err)
	got, err := dst.SchemaSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInitialize_InvalidSnapshot(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.Initialize(context.Background(), []byte("this is not a database image at all"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidSnapshot)
	assert.Equal(t, KindInvalidSnapshot, KindOf(err))

	// A failed initialize is not remembered
	st, err := b.Initialize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, st.Origin)
}

func TestInitialize_FromDurableStore(t *testing.T) {
	ctx := context.Background()
	dcfg := config.Default().Durability
	dcfg.Path = filepath.Join(t.TempDir(), "snapshots.db")
	manager := durability.New(dcfg, nil)
	defer manager.Close()
	require.True(t, manager.Enabled())

	first := New(engineConfig(t), manager, nil)
	_, err := first.Initialize(ctx, nil)
	require.NoError(t, err)
	_, err = first.CreateTableFromExternalSource(ctx, "por_widgets", "id INTEGER, label TEXT", "POR")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := New(engineConfig(t), manager, nil)
	defer second.Close()
	st, err := second.Initialize(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, OriginDurable, st.Origin)

	summary, err := second.SchemaSummary(ctx)
	require.NoError(t, err)
	require.Contains(t, summary, "por_widgets")
	require.NotNil(t, summary["por_widgets"].Source)
	assert.Equal(t, "POR", *summary["por_widgets"].Source)
	assert.Equal(t, int64(store.DefaultSeedRows), summary["por_widgets"].RowCount)
}

func TestInitialize_DurabilityUnavailable(t *testing.T) {
	ctx := context.Background()
	dcfg := config.Default().Durability
	dcfg.Enabled = false
	manager := durability.New(dcfg, nil)

	b := New(engineConfig(t), manager, nil)
	defer b.Close()

	st, err := b.Initialize(ctx, nil)
	require.NoError(t, err)
	assert.False(t, st.Durable)

	res, err := b.ExecuteQuery(ctx, "DELETE FROM knowledge_articles", nil)
	require.NoError(t, err)
	assert.True(t, res.OK(), res.Error)
}

func TestInitialize_NilSnapshotter(t *testing.T) {
	b := New(engineConfig(t), nil, nil)
	defer b.Close()

	st, err := b.Initialize(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, st.Durable)
}

func TestInitialize_TempWorkDirRemovedOnClose(t *testing.T) {
	cfg := engineConfig(t)
	cfg.WorkDir = ""
	b := New(cfg, nil, nil)

	_, err := b.Initialize(context.Background(), nil)
	require.NoError(t, err)
	dir := b.workDir
	require.DirExists(t, dir)

	require.NoError(t, b.Close())
	assert.NoDirExists(t, dir)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	b, snaps := newTestBackend(t)
	ctx := context.Background()

	payloads := map[Op]string{
		OpExecuteQuery:            `{"query":"SELECT 1"}`,
		OpCreateTableFromExternal: `{"name":"t","columns":"id INTEGER","source":"X"}`,
		OpFindSimilar:             `{"id":"doc:sql-basics","k":3}`,
		OpSetVectorEligible:       `{"table":"t","eligible":true}`,
		OpUpsertConnector:         `{"name":"c","kind":"k"}`,
		OpUpsertWorkflow:          `{"name":"w"}`,
		OpUpsertDashboard:         `{"name":"d"}`,
		OpUpsertUser:              `{"email":"a@b.c","displayName":"A"}`,
		OpDeleteConnector:         `{"id":"x"}`,
		OpDeleteWorkflow:          `{"id":"x"}`,
		OpDeleteDashboard:         `{"id":"x"}`,
		OpDeleteUser:              `{"id":"x"}`,
	}

	for _, op := range Ops {
		if op == OpInitialize {
			continue
		}
		t.Run(op.String(), func(t *testing.T) {
			_, err := b.Dispatch(ctx, op, []byte(payloads[op]))
			assert.ErrorIs(t, err, ErrNotInitialized)
		})
	}
	assert.Equal(t, 0, snaps.saveCount())
}

func TestExecuteQuery_SchedulesSaveOnlyForSuccessfulMutations(t *testing.T) {
	b, snaps := newInitializedBackend(t)
	ctx := context.Background()
	base := snaps.saveCount()

	_, err := b.ExecuteQuery(ctx, "SELECT * FROM knowledge_articles", nil)
	require.NoError(t, err)
	assert.Equal(t, base, snaps.saveCount())

	res, err := b.ExecuteQuery(ctx, "INSERT INTO missing_table VALUES (1)", nil)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, base, snaps.saveCount())

	res, err = b.ExecuteQuery(ctx, "UPDATE knowledge_articles SET category = 'x' WHERE id = ?", []any{int64(1)})
	require.NoError(t, err)
	assert.True(t, res.OK(), res.Error)
	assert.Equal(t, base+1, snaps.saveCount())
}

func TestSnapshotReflectsMutation(t *testing.T) {
	b, snaps := newInitializedBackend(t)
	ctx := context.Background()

	_, err := b.CreateTableFromExternalSource(ctx, "crm_contacts", "id INTEGER PRIMARY KEY, name TEXT", "CRM")
	require.NoError(t, err)
	snaps.Wait()

	restored := New(engineConfig(t), nil, nil)
	defer restored.Close()
	_, err = restored.Initialize(ctx, snaps.Load(ctx))
	require.NoError(t, err)

	summary, err := restored.SchemaSummary(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "crm_contacts")
}

func TestRebuildVectorIndex_CountsNewEligibleRows(t *testing.T) {
	b, _ := newInitializedBackend(t)
	ctx := context.Background()

	before, err := b.VectorStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, staticCount(t)+store.SeededArticles, before.DocumentCount)

	for _, title := range []string{"One", "Two", "Three"} {
		res, err := b.ExecuteQuery(ctx,
			"INSERT INTO knowledge_articles (title, body, category, created_at) VALUES (?, 'b', 'c', 'now')",
			[]any{title})
		require.NoError(t, err)
		require.True(t, res.OK(), res.Error)
	}

	// Not visible until rebuilt
	stale, err := b.VectorStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.DocumentCount, stale.DocumentCount)

	after, err := b.RebuildVectorIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.DocumentCount+3, after.DocumentCount)
	assert.Equal(t, staticCount(t), after.Sources[vector.StaticSource])
	assert.Equal(t, store.SeededArticles+3, after.Sources["knowledge_articles"])
}

func TestSetVectorEligible_AddsRowsOnRebuild(t *testing.T) {
	b, snaps := newInitializedBackend(t)
	ctx := context.Background()

	_, err := b.CreateTableFromExternalSource(ctx, "por_widgets", "id INTEGER, label TEXT", "POR")
	require.NoError(t, err)
	require.NoError(t, b.SetVectorEligible(ctx, "por_widgets", true))
	assert.Equal(t, 3, snaps.saveCount())

	stats, err := b.RebuildVectorIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultSeedRows, stats.Sources["por_widgets"])

	matches, err := b.FindSimilar(ctx, "por_widgets:1", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.NotEqual(t, "por_widgets:1", m.ID)
	}
}

func TestFindSimilar_UnknownIDIsEmpty(t *testing.T) {
	b, _ := newInitializedBackend(t)

	matches, err := b.FindSimilar(context.Background(), "nope:1", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCreateTable_InvalidNameIsValidationError(t *testing.T) {
	b, snaps := newInitializedBackend(t)
	base := snaps.saveCount()

	_, err := b.CreateTableFromExternalSource(context.Background(), "bad name!", "id INTEGER", "X")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, base, snaps.saveCount(), "rejected operations do not save")
}

func TestRunIntegrityMaintenance(t *testing.T) {
	b, snaps := newInitializedBackend(t)
	base := snaps.saveCount()

	report, err := b.RunIntegrityMaintenance(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, base+1, snaps.saveCount())
}

func TestDispatch_ExecuteQueryNormalizesParams(t *testing.T) {
	b, _ := newInitializedBackend(t)

	out, err := b.Dispatch(context.Background(), OpExecuteQuery,
		[]byte(`{"query":"SELECT id, title FROM knowledge_articles WHERE id = ? LIMIT ?","params":[2, 1]}`))
	require.NoError(t, err)

	res, ok := out.(store.QueryResult)
	require.True(t, ok)
	require.True(t, res.OK(), res.Error)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2), res.Rows[0]["id"])
}

func TestDispatch_ExecuteQueryBindsBlobParams(t *testing.T) {
	b, _ := newInitializedBackend(t)
	ctx := context.Background()

	out, err := b.Dispatch(ctx, OpExecuteQuery,
		[]byte(`{"query":"SELECT typeof(?) AS t, length(?) AS n","params":[{"$blob":"AAECAw=="},{"$blob":"AAECAw=="}]}`))
	require.NoError(t, err)
	res := out.(store.QueryResult)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "blob", res.Rows[0]["t"])
	assert.Equal(t, int64(4), res.Rows[0]["n"])

	_, err = b.Dispatch(ctx, OpExecuteQuery, []byte(`{"query":"SELECT ?","params":[{"$blob":"not base64!"}]}`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatch_Errors(t *testing.T) {
	b, _ := newInitializedBackend(t)
	ctx := context.Background()

	_, err := b.Dispatch(ctx, Op("drop-everything"), nil)
	assert.ErrorIs(t, err, ErrUnknownOp)

	_, err = b.Dispatch(ctx, OpFindSimilar, []byte(`{"id": 12`))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = b.Dispatch(ctx, OpUpsertUser, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatch_RecoversPanics(t *testing.T) {
	b, _ := newInitializedBackend(t)
	saved := b.index
	b.index = nil
	defer func() { b.index = saved }()

	out, err := b.Dispatch(context.Background(), OpFindSimilar, []byte(`{"id":"doc:sql-basics","k":1}`))
	assert.Nil(t, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestDispatch_EntityRoundTrip(t *testing.T) {
	b, _ := newInitializedBackend(t)
	ctx := context.Background()

	out, err := b.Dispatch(ctx, OpUpsertDashboard,
		[]byte(`{"name":"Revenue","widgets":[{"kind":"metric","title":"Total","query":"SELECT 1"}]}`))
	require.NoError(t, err)
	d := out.(*store.Dashboard)
	require.NotEmpty(t, d.ID)

	out, err = b.Dispatch(ctx, OpListDashboards, nil)
	require.NoError(t, err)
	list := out.([]*store.Dashboard)
	require.Len(t, list, 1)
	assert.Equal(t, "Total", list[0].Widgets[0].Title)

	payload, err := json.Marshal(IDRequest{ID: d.ID})
	require.NoError(t, err)
	out, err = b.Dispatch(ctx, OpDeleteDashboard, payload)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Deleted: true}, out)

	out, err = b.Dispatch(ctx, OpDeleteDashboard, payload)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Deleted: false}, out)
}

func TestDispatch_CoversEveryOp(t *testing.T) {
	b, _ := newInitializedBackend(t)
	ctx := context.Background()

	for _, op := range Ops {
		t.Run(op.String(), func(t *testing.T) {
			_, err := b.Dispatch(ctx, op, []byte(`{}`))
			assert.False(t, errors.Is(err, ErrUnknownOp), "op %s not routed", op)
		})
	}
}
