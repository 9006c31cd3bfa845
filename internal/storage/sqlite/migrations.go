package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dynamicsmcp/fomcp/internal/debug"
)

// migration moves the schema from Version-1 to Version. Each runs inside
// the caller's transaction; failures roll back and leave the file backup
// in place.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, conn *sql.Conn) error
}

// migrations lists every forward-only step in order. The base schema
// constant always reflects the newest version; these steps carry existing
// databases forward.
var migrations = []migration{
	{
		Version: 2,
		Name:    "content-bearing search table",
		Apply:   migrateSearchTableShape,
	},
}

// migrate brings the database to the current schema version. The base
// schema is idempotent; version-gated steps run only when the recorded
// version is behind. A file-level backup is taken before any step runs.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	current, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if current == 0 {
		// Fresh database: stamp the version and create the search table
		// in its current shape directly.
		if _, err := s.db.ExecContext(ctx, ftsSchema); err != nil {
			return fmt.Errorf("create search table: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		return nil
	}

	if current >= schemaVersion {
		// Up to date. Still verify the search table exists: it lives
		// outside the base schema constant.
		if _, err := s.db.ExecContext(ctx, ftsSchema); err != nil {
			return fmt.Errorf("ensure search table: %w", err)
		}
		return nil
	}

	if err := s.backupFile(); err != nil {
		return fmt.Errorf("pre-migration backup: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		debug.Logf("sqlite: migrating schema %d -> %d (%s)", m.Version-1, m.Version, m.Name)
		err := s.inTxUnchecked(ctx, func(conn *sql.Conn) error {
			if err := m.Apply(ctx, conn); err != nil {
				return err
			}
			_, err := conn.ExecContext(ctx, `UPDATE schema_version SET version = ?`, m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// inTxUnchecked is inTx without the read-only gate, for use during open.
func (s *Store) inTxUnchecked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	if err := beginImmediate(ctx, conn); err != nil {
		return err
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
		return err
	}
	committed = true
	return nil
}

// currentSchemaVersion reads the recorded version. 0 means a fresh
// database (no row yet).
func (s *Store) currentSchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// backupFile copies the database file next to itself before a migration.
// In-memory databases are skipped.
func (s *Store) backupFile() error {
	if isInMemory(s.dbPath) {
		return nil
	}
	src, err := os.Open(s.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = src.Close() }()
	dst, err := os.OpenFile(s.dbPath+".bak", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()
	_, err = io.Copy(dst, src)
	return err
}

// migrateSearchTableShape replaces a legacy contentless metadata_search
// table with the content-bearing shape and queues every environment's
// active version for a rebuild. A table already in the new shape is left
// alone.
func migrateSearchTableShape(ctx context.Context, conn *sql.Conn) error {
	var ddl string
	err := conn.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'metadata_search'`).Scan(&ddl)
	if err == sql.ErrNoRows {
		_, err := conn.ExecContext(ctx, ftsSchema)
		return err
	}
	if err != nil {
		return err
	}

	if !isContentlessFTS(ddl) {
		return nil
	}

	if _, err := conn.ExecContext(ctx, `DROP TABLE metadata_search`); err != nil {
		return fmt.Errorf("drop legacy search table: %w", err)
	}
	if _, err := conn.ExecContext(ctx, ftsSchema); err != nil {
		return fmt.Errorf("recreate search table: %w", err)
	}
	_, err = conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO fts_rebuild_queue (global_version_id)
		SELECT global_version_id FROM environment_versions WHERE is_active = 1`)
	return err
}

// isContentlessFTS detects the legacy shape: an fts5 table declared with
// an empty content option, which cannot serve stored-column reads.
func isContentlessFTS(ddl string) bool {
	lower := strings.ToLower(ddl)
	return strings.Contains(lower, "content=''") || strings.Contains(lower, `content=""`)
}

// PendingRebuilds implements storage.MetadataStore.
func (s *Store) PendingRebuilds(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT global_version_id FROM fts_rebuild_queue ORDER BY global_version_id`)
	if err != nil {
		return nil, wrapDBError("list pending rebuilds", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearPendingRebuild implements storage.MetadataStore.
func (s *Store) ClearPendingRebuild(ctx context.Context, versionID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fts_rebuild_queue WHERE global_version_id = ?`, versionID)
	return wrapDBError("clear pending rebuild", err)
}
