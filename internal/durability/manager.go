// ABOUTME: Durability manager persisting full database snapshots to a local bbolt file
// ABOUTME: Probes storage once, degrades to non-durable on any failure and never surfaces save errors

package durability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	"github.com/2389/coven-dataengine/internal/config"
)

var (
	bucketSnapshots = []byte("snapshots")
	keyLatest       = []byte("latest")
	keyProbe        = []byte("probe")
)

// DefaultLockTimeout bounds how long opening the store waits for the file lock
const DefaultLockTimeout = time.Second

// ExportFunc produces the snapshot bytes to persist
type ExportFunc func(ctx context.Context) ([]byte, error)

// Manager persists the latest database snapshot. When storage is unavailable
// the manager is disabled for the rest of its lifetime: Save does nothing
// and Load returns nil.
type Manager struct {
	mu      sync.Mutex
	db      *bbolt.DB
	codec   Codec
	path    string
	enabled atomic.Bool

	// saveMu orders export+write pairs so an older image never overwrites a newer one
	saveMu   sync.Mutex
	inflight sync.WaitGroup

	logger   *slog.Logger
	throttle *rate.Limiter
}

// New opens the snapshot store described by cfg and verifies it with a
// write/read/delete probe. Failures are logged and leave the manager disabled.
func New(cfg config.DurabilityConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:     cfg.Path,
		logger:   logger.With("component", "durability"),
		throttle: rate.NewLimiter(rate.Every(time.Minute), 1),
	}

	if !cfg.Enabled {
		m.logger.Info("durability disabled by configuration")
		return m
	}

	codec, err := ParseCodec(cfg.Compression)
	if err != nil {
		m.logger.Warn("durability unavailable", "error", err)
		return m
	}
	m.codec = codec

	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	db, err := open(cfg.Path, timeout)
	if err != nil {
		m.logger.Warn("durability unavailable, continuing without snapshots", "path", cfg.Path, "error", err)
		return m
	}

	m.db = db
	m.enabled.Store(true)
	m.logger.Info("durability enabled", "path", cfg.Path, "codec", codec.String())
	return m
}

// open opens the bbolt file and runs the probe
func open(path string, timeout time.Duration) (*bbolt.DB, error) {
	if path == "" {
		return nil, errors.New("no durability path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating durability directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	if err := probe(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// probe writes, reads back and deletes a throwaway key
func probe(db *bbolt.DB) error {
	want := []byte(time.Now().UTC().Format(time.RFC3339Nano))

	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		if err != nil {
			return err
		}
		return b.Put(keyProbe, want)
	})
	if err != nil {
		return fmt.Errorf("probe write: %w", err)
	}

	err = db.View(func(tx *bbolt.Tx) error {
		got := tx.Bucket(bucketSnapshots).Get(keyProbe)
		if !bytes.Equal(got, want) {
			return errors.New("probe value mismatch")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete(keyProbe)
	})
	if err != nil {
		return fmt.Errorf("probe delete: %w", err)
	}
	return nil
}

// Enabled reports whether snapshots are being persisted
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// Load returns the latest stored snapshot, or nil when there is none, the
// manager is disabled, or the stored value cannot be decoded.
func (m *Manager) Load(ctx context.Context) []byte {
	if ctx.Err() != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled.Load() {
		m.logDisabled("load")
		return nil
	}

	var blob []byte
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return nil
		}
		// Values are only valid inside the transaction
		blob = bytes.Clone(b.Get(keyLatest))
		return nil
	})
	if err != nil {
		m.logger.Warn("reading snapshot failed", "error", err)
		return nil
	}
	if blob == nil {
		return nil
	}

	snapshot, err := Decode(blob)
	if err != nil {
		m.logger.Warn("stored snapshot unreadable, starting fresh", "error", err)
		return nil
	}
	m.logger.Debug("snapshot loaded", "bytes", len(snapshot), "stored_bytes", len(blob))
	return snapshot
}

// Save overwrites the latest snapshot. Any failure disables the manager and
// is logged; it is never returned.
func (m *Manager) Save(ctx context.Context, snapshot []byte) {
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled.Load() {
		m.logDisabled("save")
		return
	}

	blob, err := Encode(m.codec, snapshot)
	if err != nil {
		m.disableLocked("encoding snapshot", err)
		return
	}

	err = m.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		if err != nil {
			return err
		}
		return b.Put(keyLatest, blob)
	})
	if err != nil {
		m.disableLocked("writing snapshot", err)
		return
	}
	m.logger.Debug("snapshot saved", "bytes", len(snapshot), "stored_bytes", len(blob))
}

// SaveAsync exports and saves a snapshot on a detached goroutine. It returns
// immediately; Wait blocks until every scheduled save has finished.
func (m *Manager) SaveAsync(export ExportFunc) {
	if !m.enabled.Load() {
		m.logDisabled("save")
		return
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		m.saveMu.Lock()
		defer m.saveMu.Unlock()

		// Detached from any caller: the caller has already been answered
		ctx := context.Background()
		snapshot, err := export(ctx)
		if err != nil {
			m.logger.Warn("exporting snapshot failed, skipping save", "error", err)
			return
		}
		m.Save(ctx, snapshot)
	}()
}

// Wait blocks until all saves scheduled with SaveAsync have completed
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Close waits for in-flight saves and closes the store
func (m *Manager) Close() error {
	m.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled.Store(false)
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// disableLocked turns durability off for the rest of the session. Caller holds mu.
func (m *Manager) disableLocked(op string, err error) {
	m.enabled.Store(false)
	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}
	m.logger.Error("durability failure, continuing without snapshots", "op", op, "error", err)
}

func (m *Manager) logDisabled(op string) {
	if m.throttle.Allow() {
		m.logger.Debug("durability disabled, skipping", "op", op)
	}
}
