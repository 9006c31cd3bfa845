// Package sqlite implements storage.MetadataStore on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/dynamicsmcp/fomcp/internal/storage"
)

// Store implements storage.MetadataStore.
type Store struct {
	db       *sql.DB
	dbPath   string
	readOnly atomic.Bool
	closed   atomic.Bool
}

// setupWASMCache points go-sqlite3's wazero runtime at a persistent
// compilation cache so process start does not pay the JIT cost every time.
// Falls back to an in-memory cache when the directory cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "fomcp", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// connString builds the driver connection string with the pragmas every
// connection needs. In-memory databases use a shared cache with DELETE
// journaling; WAL does not apply to them.
func connString(path string) string {
	switch {
	case path == ":memory:":
		return "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	case strings.HasPrefix(path, "file:"):
		s := path
		if !strings.Contains(s, "_pragma=foreign_keys") {
			s += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
		return s
	default:
		return "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}
}

func isInMemory(path string) bool {
	return path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
}

// Open opens (creating if needed) the metadata database at path and brings
// the schema up to date. A failed migration leaves the database untouched
// and the store opens read-only.
func Open(ctx context.Context, path string) (*Store, error) {
	inMemory := isInMemory(path)
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if inMemory {
		// In-memory databases are per-connection; a pool of one keeps
		// every caller on the same data.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports one writer and many readers. Bound the pool so
		// write-lock contention does not pile up goroutines.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db, dbPath: path}
	if !inMemory {
		if abs, err := filepath.Abs(path); err == nil {
			store.dbPath = abs
		}
	}

	if err := store.migrate(ctx); err != nil {
		// Keep the store usable for reads; writes are refused.
		store.readOnly.Store(true)
		return store, wrapSchemaError(err)
	}
	return store, nil
}

// Close checkpoints the WAL and closes the pool. Without the checkpoint,
// writes can be stranded in the WAL between CLI invocations.
func (s *Store) Close() error {
	s.closed.Store(true)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// ReadOnly implements storage.MetadataStore.
func (s *Store) ReadOnly() bool { return s.readOnly.Load() }

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool { return s.closed.Load() }

// inTx runs fn inside one IMMEDIATE transaction on a dedicated connection.
// IMMEDIATE takes the write lock up front so concurrent writers queue on
// busy_timeout instead of deadlocking mid-transaction.
func (s *Store) inTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if s.readOnly.Load() {
		return errReadOnly()
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediate starts an IMMEDIATE transaction, retrying briefly on
// SQLITE_BUSY when another writer holds the lock past busy_timeout.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	var err error
	delay := 10 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "busy") && !strings.Contains(err.Error(), "locked") {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

var _ storage.MetadataStore = (*Store)(nil)
