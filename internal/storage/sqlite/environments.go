package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// GetOrCreateEnvironment implements storage.MetadataStore. The base URL is
// canonicalized before lookup so equivalent spellings map to one row.
func (s *Store) GetOrCreateEnvironment(ctx context.Context, baseURL, displayName string) (*types.Environment, error) {
	baseURL = types.CanonicalBaseURL(baseURL)
	env := &types.Environment{BaseURL: baseURL, DisplayName: displayName}
	if err := env.Validate(); err != nil {
		return nil, wrapDBError("validate environment", err)
	}

	if existing, err := s.GetEnvironmentByURL(ctx, baseURL); err == nil {
		return existing, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	err := s.inTx(ctx, func(conn *sql.Conn) error {
		// Resolve the race with a concurrent creator via the unique index.
		res, err := conn.ExecContext(ctx, `
			INSERT INTO environments (base_url, display_name)
			VALUES (?, ?)
			ON CONFLICT(base_url) DO NOTHING`, baseURL, displayName)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			env.ID = id
			env.CreatedAt = time.Now().UTC()
			return nil
		}
		return scanEnvironment(conn.QueryRowContext(ctx, `
			SELECT id, base_url, display_name, created_at, last_sync_at
			FROM environments WHERE base_url = ?`, baseURL), env)
	})
	if err != nil {
		return nil, wrapDBError("get or create environment", err)
	}
	if env.CreatedAt.IsZero() {
		// Row existed; reread outside the write path.
		return s.GetEnvironmentByURL(ctx, baseURL)
	}
	return env, nil
}

// GetEnvironment implements storage.MetadataStore.
func (s *Store) GetEnvironment(ctx context.Context, id int64) (*types.Environment, error) {
	env := &types.Environment{}
	err := scanEnvironment(s.db.QueryRowContext(ctx, `
		SELECT id, base_url, display_name, created_at, last_sync_at
		FROM environments WHERE id = ?`, id), env)
	if err != nil {
		return nil, wrapDBError("get environment", err)
	}
	return env, nil
}

// GetEnvironmentByURL implements storage.MetadataStore.
func (s *Store) GetEnvironmentByURL(ctx context.Context, baseURL string) (*types.Environment, error) {
	env := &types.Environment{}
	err := scanEnvironment(s.db.QueryRowContext(ctx, `
		SELECT id, base_url, display_name, created_at, last_sync_at
		FROM environments WHERE base_url = ?`, types.CanonicalBaseURL(baseURL)), env)
	if err != nil {
		return nil, wrapDBError("get environment by url", err)
	}
	return env, nil
}

// TouchEnvironmentSync implements storage.MetadataStore.
func (s *Store) TouchEnvironmentSync(ctx context.Context, envID int64, at time.Time) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`UPDATE environments SET last_sync_at = ? WHERE id = ?`, at.UTC(), envID)
		return wrapDBError("touch environment sync", err)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner, env *types.Environment) error {
	var lastSync sql.NullTime
	if err := row.Scan(&env.ID, &env.BaseURL, &env.DisplayName, &env.CreatedAt, &lastSync); err != nil {
		return err
	}
	if lastSync.Valid {
		env.LastSyncAt = &lastSync.Time
	}
	return nil
}
