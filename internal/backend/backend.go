// ABOUTME: Execution backend owning the relational store and the similarity index
// ABOUTME: Runs engine operations one at a time and schedules a snapshot after every mutation

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389/coven-dataengine/internal/config"
	"github.com/2389/coven-dataengine/internal/durability"
	"github.com/2389/coven-dataengine/internal/store"
	"github.com/2389/coven-dataengine/internal/vector"
)

// Snapshotter persists database images. *durability.Manager implements it.
type Snapshotter interface {
	Enabled() bool
	Load(ctx context.Context) []byte
	SaveAsync(export durability.ExportFunc)
	Wait()
}

// workFile is the name of the working database inside the work directory
const workFile = "engine.db"

// Backend owns the store and index exclusively. Every typed method takes mu,
// so the backend observes one operation at a time regardless of caller.
type Backend struct {
	mu      sync.Mutex
	cfg     config.EngineConfig
	workDir string
	ownsDir bool

	store  *store.SQLiteStore
	index  *vector.Index
	status *InitStatus

	snapshots Snapshotter
	logger    *slog.Logger
}

// New creates an uninitialized backend. snapshots may be nil, in which case
// nothing is persisted.
func New(cfg config.EngineConfig, snapshots Snapshotter, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:       cfg,
		index:     vector.NewIndex(cfg.VectorDimension),
		snapshots: snapshots,
		logger:    logger.With("component", "backend"),
	}
}

// Initialize opens the database exactly once. The state comes from snapshot
// when given, else from the durable store, else a fresh seeded database.
// Later calls return the first status without touching the database.
func (b *Backend) Initialize(ctx context.Context, snapshot []byte) (*InitStatus, error) {
	b.mu.Lock()
	if b.status != nil {
		st := *b.status
		b.mu.Unlock()
		return &st, nil
	}

	st, err := b.initializeLocked(ctx, snapshot)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// The durable copy is stale unless the state came from it
	if st.Origin != OriginDurable {
		b.afterMutation()
	}
	return &st, nil
}

func (b *Backend) initializeLocked(ctx context.Context, snapshot []byte) (InitStatus, error) {
	st := InitStatus{Initialized: true}

	if err := b.ensureWorkDir(); err != nil {
		return st, err
	}
	path := filepath.Join(b.workDir, workFile)

	opts := []store.Option{store.WithLogger(b.logger)}
	if b.cfg.SeedRows > 0 {
		opts = append(opts, store.WithSeedRows(b.cfg.SeedRows))
	}

	var s *store.SQLiteStore
	if snapshot != nil {
		var err error
		s, err = store.NewSQLiteStore(path, snapshot, opts...)
		if err != nil {
			return st, fmt.Errorf("restoring snapshot: %w", err)
		}
		st.Origin = OriginSnapshot
	} else if image := b.loadDurable(ctx); image != nil {
		var err error
		s, err = store.NewSQLiteStore(path, image, opts...)
		if err != nil {
			b.logger.Warn("durable snapshot unusable, starting fresh", "error", err)
			s = nil
		} else {
			st.Origin = OriginDurable
		}
	}

	if s == nil {
		var err error
		s, err = store.NewSQLiteStore(path, nil, opts...)
		if err != nil {
			return st, fmt.Errorf("opening database: %w", err)
		}
		if err := s.Seed(ctx); err != nil {
			s.Close()
			return st, err
		}
		st.Origin = OriginFresh
	}

	b.store = s
	if err := b.rebuildLocked(ctx); err != nil {
		b.store = nil
		s.Close()
		return st, err
	}

	st.Documents = b.index.Len()
	st.Durable = b.snapshots != nil && b.snapshots.Enabled()
	b.status = &st

	b.logger.Info("engine initialized",
		"origin", st.Origin,
		"durable", st.Durable,
		"documents", st.Documents,
		"work_dir", b.workDir,
	)
	return st, nil
}

func (b *Backend) loadDurable(ctx context.Context) []byte {
	if b.snapshots == nil {
		return nil
	}
	return b.snapshots.Load(ctx)
}

// ensureWorkDir picks the directory holding the working database
func (b *Backend) ensureWorkDir() error {
	if b.workDir != "" {
		return nil
	}
	if b.cfg.WorkDir != "" {
		if err := os.MkdirAll(b.cfg.WorkDir, 0755); err != nil {
			return fmt.Errorf("creating work directory: %w", err)
		}
		b.workDir = b.cfg.WorkDir
		return nil
	}
	dir, err := os.MkdirTemp("", "dataengine-*")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	b.workDir = dir
	b.ownsDir = true
	return nil
}

// ready returns the store, or ErrNotInitialized. Caller holds mu.
func (b *Backend) ready() (*store.SQLiteStore, error) {
	if b.store == nil {
		return nil, ErrNotInitialized
	}
	return b.store, nil
}

// afterMutation schedules a detached snapshot save. It must be called
// without mu held; the export takes mu itself.
func (b *Backend) afterMutation() {
	if b.snapshots == nil {
		return
	}
	b.snapshots.SaveAsync(b.ExportSnapshot)
}

// rebuildLocked reloads the index from the static corpus and eligible rows. Caller holds mu.
func (b *Backend) rebuildLocked(ctx context.Context) error {
	static, err := vector.StaticCorpus()
	if err != nil {
		return err
	}
	rows, err := b.store.VectorEligibleRows(ctx)
	if err != nil {
		return fmt.Errorf("collecting vector rows: %w", err)
	}

	docs := make([]vector.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, vector.RowDocument(r.Table, r.RowID, r.Columns, r.Values))
	}
	b.index.Rebuild(static, docs)
	b.logger.Debug("vector index rebuilt", "static", len(static), "rows", len(docs))
	return nil
}

// ExecuteQuery runs a statement. Query failures are reported inside the
// result; the error is only set when the engine is not initialized.
func (b *Backend) ExecuteQuery(ctx context.Context, query string, params []any) (store.QueryResult, error) {
	b.mu.Lock()
	s, err := b.ready()
	if err != nil {
		b.mu.Unlock()
		return store.QueryResult{}, err
	}
	res := s.ExecuteQuery(ctx, query, params)
	b.mu.Unlock()

	if res.OK() && res.Mutating {
		b.afterMutation()
	}
	return res, nil
}

// SchemaSummary describes every user-visible table
func (b *Backend) SchemaSummary(ctx context.Context) (map[string]store.TableSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.ready()
	if err != nil {
		return nil, err
	}
	return s.SchemaSummary(ctx)
}

// CreateTableFromExternalSource creates and seeds a table tagged with source
func (b *Backend) CreateTableFromExternalSource(ctx context.Context, name, columns, source string) (*CreateTableResult, error) {
	b.mu.Lock()
	s, err := b.ready()
	if err == nil {
		err = s.CreateTableFromExternalSource(ctx, name, columns, source)
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.afterMutation()
	return &CreateTableResult{Table: name, Source: source}, nil
}

// FindSimilar returns up to k documents most similar to id
func (b *Backend) FindSimilar(_ context.Context, id string, k int) ([]vector.Match, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.ready(); err != nil {
		return nil, err
	}
	return b.index.FindSimilar(id, k), nil
}

// Statistics reports table and row counts
func (b *Backend) Statistics(ctx context.Context) (*store.Statistics, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.ready()
	if err != nil {
		return nil, err
	}
	return s.Statistics(ctx)
}

// ExportSnapshot returns the full database image
func (b *Backend) ExportSnapshot(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.ready()
	if err != nil {
		return nil, err
	}
	return s.Export(ctx)
}

// RunIntegrityMaintenance checks and compacts the database
func (b *Backend) RunIntegrityMaintenance(ctx context.Context) (*store.MaintenanceReport, error) {
	b.mu.Lock()
	s, err := b.ready()
	var report *store.MaintenanceReport
	if err == nil {
		report, err = s.RunIntegrityMaintenance(ctx)
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.afterMutation()
	return report, nil
}

// VectorStats describes the similarity index
func (b *Backend) VectorStats(context.Context) (vector.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.ready(); err != nil {
		return vector.Stats{}, err
	}
	return b.index.Stats(), nil
}

// RebuildVectorIndex reloads the index from the current database contents
func (b *Backend) RebuildVectorIndex(ctx context.Context) (vector.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.ready(); err != nil {
		return vector.Stats{}, err
	}
	if err := b.rebuildLocked(ctx); err != nil {
		return vector.Stats{}, err
	}
	return b.index.Stats(), nil
}

// SetVectorEligible flags a table as a source of index documents
func (b *Backend) SetVectorEligible(ctx context.Context, table string, eligible bool) error {
	b.mu.Lock()
	s, err := b.ready()
	if err == nil {
		err = s.SetVectorEligible(ctx, table, eligible)
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.afterMutation()
	return nil
}

// Wait blocks until scheduled snapshot saves have finished
func (b *Backend) Wait() {
	if b.snapshots != nil {
		b.snapshots.Wait()
	}
}

// Close waits for pending saves, closes the database and removes a
// temporary work directory.
func (b *Backend) Close() error {
	b.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
		b.store = nil
	}
	b.status = nil
	if b.ownsDir {
		errs = append(errs, os.RemoveAll(b.workDir))
		b.workDir = ""
		b.ownsDir = false
	}
	return errors.Join(errs...)
}
