package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// CreateSyncSession implements storage.MetadataStore. Creation is refused
// while another non-terminal session exists for the environment; the
// check and insert share one transaction so two concurrent starts cannot
// both win.
func (s *Store) CreateSyncSession(ctx context.Context, session *types.SyncSession) error {
	if err := session.Validate(); err != nil {
		return wrapDBError("validate session", err)
	}
	return s.inTx(ctx, func(conn *sql.Conn) error {
		var running int
		if err := conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sync_sessions
			WHERE environment_id = ? AND state IN ('pending', 'running', 'cancelling')`,
			session.EnvironmentID).Scan(&running); err != nil {
			return err
		}
		if running > 0 {
			return types.NewError(types.ErrSyncConflict,
				"a sync session is already running for environment %d", session.EnvironmentID)
		}

		messages, err := json.Marshal(session.ErrorMessages)
		if err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO sync_sessions
				(id, environment_id, global_version_id, strategy, state, phase,
				 items_total, items_done, errors_count, error_messages, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.EnvironmentID, nullableID(session.GlobalVersionID),
			string(session.Strategy), string(session.State), string(session.Phase),
			session.ItemsTotal, session.ItemsDone, session.ErrorsCount, string(messages),
			session.StartedAt.UTC(), nullableTime(session.FinishedAt))
		return err
	})
}

// UpdateSyncSession implements storage.MetadataStore.
func (s *Store) UpdateSyncSession(ctx context.Context, session *types.SyncSession) error {
	return wrapDBError("update sync session", s.inTx(ctx, func(conn *sql.Conn) error {
		messages, err := json.Marshal(session.ErrorMessages)
		if err != nil {
			return err
		}
		res, err := conn.ExecContext(ctx, `
			UPDATE sync_sessions SET
				global_version_id = ?, strategy = ?, state = ?, phase = ?,
				items_total = ?, items_done = ?, errors_count = ?, error_messages = ?,
				finished_at = ?
			WHERE id = ?`,
			nullableID(session.GlobalVersionID), string(session.Strategy),
			string(session.State), string(session.Phase),
			session.ItemsTotal, session.ItemsDone, session.ErrorsCount, string(messages),
			nullableTime(session.FinishedAt), session.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}))
}

// GetSyncSession implements storage.MetadataStore.
func (s *Store) GetSyncSession(ctx context.Context, id string) (*types.SyncSession, error) {
	session := &types.SyncSession{}
	err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, environment_id, global_version_id, strategy, state, phase,
		       items_total, items_done, errors_count, error_messages, started_at, finished_at
		FROM sync_sessions WHERE id = ?`, id), session)
	if err == sql.ErrNoRows {
		return nil, notFoundError("sync session", id)
	}
	if err != nil {
		return nil, wrapDBError("get sync session", err)
	}
	return session, nil
}

// ListSyncSessions implements storage.MetadataStore.
func (s *Store) ListSyncSessions(ctx context.Context, envID int64, state types.SyncState, limit int) ([]*types.SyncSession, error) {
	query := `
		SELECT id, environment_id, global_version_id, strategy, state, phase,
		       items_total, items_done, errors_count, error_messages, started_at, finished_at
		FROM sync_sessions WHERE 1=1`
	var args []any
	if envID != 0 {
		query += ` AND environment_id = ?`
		args = append(args, envID)
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list sync sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.SyncSession
	for rows.Next() {
		session := &types.SyncSession{}
		if err := scanSession(rows, session); err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// ActiveSyncSession implements storage.MetadataStore.
func (s *Store) ActiveSyncSession(ctx context.Context, envID int64) (*types.SyncSession, error) {
	session := &types.SyncSession{}
	err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, environment_id, global_version_id, strategy, state, phase,
		       items_total, items_done, errors_count, error_messages, started_at, finished_at
		FROM sync_sessions
		WHERE environment_id = ? AND state IN ('pending', 'running', 'cancelling')
		ORDER BY started_at DESC LIMIT 1`, envID), session)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("active sync session", err)
	}
	return session, nil
}

func scanSession(row rowScanner, session *types.SyncSession) error {
	var versionID sql.NullInt64
	var finished sql.NullTime
	var strategy, state, phase, messages string
	if err := row.Scan(&session.ID, &session.EnvironmentID, &versionID,
		&strategy, &state, &phase,
		&session.ItemsTotal, &session.ItemsDone, &session.ErrorsCount, &messages,
		&session.StartedAt, &finished); err != nil {
		return err
	}
	if versionID.Valid {
		session.GlobalVersionID = versionID.Int64
	}
	session.Strategy = types.SyncStrategy(strategy)
	session.State = types.SyncState(state)
	session.Phase = types.SyncPhase(phase)
	if finished.Valid {
		session.FinishedAt = &finished.Time
	}
	if messages != "" && messages != "null" {
		if err := json.Unmarshal([]byte(messages), &session.ErrorMessages); err != nil {
			return err
		}
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
