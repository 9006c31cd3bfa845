package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// FindGlobalVersionByHash implements storage.MetadataStore.
func (s *Store) FindGlobalVersionByHash(ctx context.Context, modulesHash string) (*types.GlobalVersion, error) {
	gv := &types.GlobalVersion{}
	err := scanGlobalVersion(s.db.QueryRowContext(ctx, `
		SELECT id, version_hash, modules_hash, application_version, platform_version,
		       first_seen_at, last_used_at, reference_count, created_by_environment_id, module_count
		FROM global_versions WHERE modules_hash = ?`, modulesHash), gv)
	if err != nil {
		return nil, wrapDBError("find global version by hash", err)
	}
	s.loadSampleModules(ctx, gv)
	return gv, nil
}

// GetGlobalVersion implements storage.MetadataStore.
func (s *Store) GetGlobalVersion(ctx context.Context, id int64) (*types.GlobalVersion, error) {
	gv := &types.GlobalVersion{}
	err := scanGlobalVersion(s.db.QueryRowContext(ctx, `
		SELECT id, version_hash, modules_hash, application_version, platform_version,
		       first_seen_at, last_used_at, reference_count, created_by_environment_id, module_count
		FROM global_versions WHERE id = ?`, id), gv)
	if err != nil {
		return nil, wrapDBError("get global version", err)
	}
	s.loadSampleModules(ctx, gv)
	return gv, nil
}

// ListGlobalVersions implements storage.MetadataStore, newest first.
func (s *Store) ListGlobalVersions(ctx context.Context) ([]*types.GlobalVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_hash, modules_hash, application_version, platform_version,
		       first_seen_at, last_used_at, reference_count, created_by_environment_id, module_count
		FROM global_versions ORDER BY last_used_at DESC`)
	if err != nil {
		return nil, wrapDBError("list global versions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.GlobalVersion
	for rows.Next() {
		gv := &types.GlobalVersion{}
		if err := scanGlobalVersion(rows, gv); err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, rows.Err()
}

// CreateGlobalVersion implements storage.MetadataStore. Find-or-insert by
// modules_hash in one transaction; a concurrent creator wins cleanly via
// the unique constraint. Stores up to types.MaxSampleModules modules for
// diagnostics.
func (s *Store) CreateGlobalVersion(ctx context.Context, detected *types.EnvironmentVersion, createdByEnvID int64) (*types.GlobalVersion, error) {
	gv := &types.GlobalVersion{}
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		err := scanGlobalVersion(conn.QueryRowContext(ctx, `
			SELECT id, version_hash, modules_hash, application_version, platform_version,
			       first_seen_at, last_used_at, reference_count, created_by_environment_id, module_count
			FROM global_versions WHERE modules_hash = ?`, detected.ModulesHash), gv)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		now := time.Now().UTC()
		res, err := conn.ExecContext(ctx, `
			INSERT INTO global_versions
				(version_hash, modules_hash, application_version, platform_version,
				 first_seen_at, last_used_at, reference_count, created_by_environment_id, module_count)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			detected.VersionHash, detected.ModulesHash,
			detected.ApplicationVersion, detected.PlatformVersion,
			now, now, nullableID(createdByEnvID), len(detected.Modules))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		samples := detected.Modules
		if len(samples) > types.MaxSampleModules {
			samples = samples[:types.MaxSampleModules]
		}
		for i, m := range samples {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO global_version_modules
					(global_version_id, module_id, name, version, publisher, display_name, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, m.ModuleID, m.Name, m.Version, m.Publisher, m.DisplayName, i); err != nil {
				return err
			}
		}

		*gv = types.GlobalVersion{
			ID:                     id,
			VersionHash:            detected.VersionHash,
			ModulesHash:            detected.ModulesHash,
			ApplicationVersion:     detected.ApplicationVersion,
			PlatformVersion:        detected.PlatformVersion,
			FirstSeenAt:            now,
			LastUsedAt:             now,
			CreatedByEnvironmentID: createdByEnvID,
			SampleModules:          samples,
			ModuleCount:            len(detected.Modules),
		}
		return nil
	})
	if err != nil {
		return nil, wrapDBError("create global version", err)
	}
	return gv, nil
}

// LinkEnvironmentToVersion implements storage.MetadataStore. One
// transaction deactivates the prior active link, upserts the new one as
// active with sync_status pending, and bumps the target version's
// reference count and last_used_at.
func (s *Store) LinkEnvironmentToVersion(ctx context.Context, envID, versionID int64) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		var priorVersion sql.NullInt64
		err := conn.QueryRowContext(ctx, `
			SELECT global_version_id FROM environment_versions
			WHERE environment_id = ? AND is_active = 1`, envID).Scan(&priorVersion)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if priorVersion.Valid && priorVersion.Int64 == versionID {
			return nil
		}

		if _, err := conn.ExecContext(ctx, `
			UPDATE environment_versions SET is_active = 0
			WHERE environment_id = ? AND is_active = 1`, envID); err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO environment_versions
				(environment_id, global_version_id, detected_at, is_active, sync_status)
			VALUES (?, ?, ?, 1, 'pending')
			ON CONFLICT(environment_id, global_version_id) DO UPDATE SET
				is_active = 1, detected_at = excluded.detected_at`,
			envID, versionID, now); err != nil {
			return err
		}

		// The reference count is the number of environments actively on
		// the version; recomputing keeps re-links idempotent and lets a
		// superseded version age toward retention cleanup.
		if _, err := conn.ExecContext(ctx, `
			UPDATE global_versions
			SET reference_count = (
				SELECT COUNT(*) FROM environment_versions
				WHERE global_version_id = ? AND is_active = 1
			), last_used_at = ?
			WHERE id = ?`, versionID, now, versionID); err != nil {
			return err
		}
		if priorVersion.Valid {
			if _, err := conn.ExecContext(ctx, `
				UPDATE global_versions
				SET reference_count = (
					SELECT COUNT(*) FROM environment_versions
					WHERE global_version_id = ? AND is_active = 1
				)
				WHERE id = ?`, priorVersion.Int64, priorVersion.Int64); err != nil {
				return err
			}
		}
		return nil
	})
}

// ActiveVersionLink implements storage.MetadataStore.
func (s *Store) ActiveVersionLink(ctx context.Context, envID int64) (*types.EnvironmentVersionLink, error) {
	link := &types.EnvironmentVersionLink{}
	err := scanVersionLink(s.db.QueryRowContext(ctx, `
		SELECT environment_id, global_version_id, detected_at, is_active, sync_status, last_sync_duration_ms
		FROM environment_versions
		WHERE environment_id = ? AND is_active = 1`, envID), link)
	if err != nil {
		return nil, wrapDBError("active version link", err)
	}
	return link, nil
}

// ListEnvironmentVersions implements storage.MetadataStore, newest first.
func (s *Store) ListEnvironmentVersions(ctx context.Context, envID int64) ([]*types.EnvironmentVersionLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT environment_id, global_version_id, detected_at, is_active, sync_status, last_sync_duration_ms
		FROM environment_versions
		WHERE environment_id = ? ORDER BY detected_at DESC`, envID)
	if err != nil {
		return nil, wrapDBError("list environment versions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.EnvironmentVersionLink
	for rows.Next() {
		link := &types.EnvironmentVersionLink{}
		if err := scanVersionLink(rows, link); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// SetSyncStatus implements storage.MetadataStore.
func (s *Store) SetSyncStatus(ctx context.Context, envID, versionID int64, status types.SyncStatus, durationMS int64) error {
	return wrapDBError("set sync status", s.inTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE environment_versions
			SET sync_status = ?, last_sync_duration_ms = ?
			WHERE environment_id = ? AND global_version_id = ?`,
			status, durationMS, envID, versionID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}))
}

// HasCompletedSync implements storage.MetadataStore.
func (s *Store) HasCompletedSync(ctx context.Context, versionID, excludeEnvID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM environment_versions
		WHERE global_version_id = ? AND sync_status = 'completed' AND environment_id != ?`,
		versionID, excludeEnvID).Scan(&n)
	if err != nil {
		return false, wrapDBError("has completed sync", err)
	}
	return n > 0, nil
}

// CleanupUnusedVersions implements storage.MetadataStore. Metadata rows,
// search entries, and sample modules go with the version via ON DELETE
// CASCADE; only the FTS rows need the explicit sweep since the virtual
// table carries no foreign keys.
func (s *Store) CleanupUnusedVersions(ctx context.Context, olderThan time.Time) (int, error) {
	var deleted int
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id FROM global_versions
			WHERE reference_count = 0 AND last_used_at < ?`, olderThan.UTC())
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := conn.ExecContext(ctx,
				`DELETE FROM metadata_search WHERE global_version_id = ?`, id); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx,
				`DELETE FROM global_versions WHERE id = ?`, id); err != nil {
				return err
			}
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, wrapDBError("cleanup unused versions", err)
	}
	return deleted, nil
}

func (s *Store) loadSampleModules(ctx context.Context, gv *types.GlobalVersion) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, name, version, publisher, display_name, sort_order
		FROM global_version_modules
		WHERE global_version_id = ? ORDER BY sort_order`, gv.ID)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m types.Module
		if err := rows.Scan(&m.ModuleID, &m.Name, &m.Version, &m.Publisher, &m.DisplayName, &m.SortOrder); err != nil {
			return
		}
		gv.SampleModules = append(gv.SampleModules, m)
	}
}

func scanGlobalVersion(row rowScanner, gv *types.GlobalVersion) error {
	var createdBy sql.NullInt64
	if err := row.Scan(&gv.ID, &gv.VersionHash, &gv.ModulesHash,
		&gv.ApplicationVersion, &gv.PlatformVersion,
		&gv.FirstSeenAt, &gv.LastUsedAt, &gv.ReferenceCount,
		&createdBy, &gv.ModuleCount); err != nil {
		return err
	}
	if createdBy.Valid {
		gv.CreatedByEnvironmentID = createdBy.Int64
	}
	return nil
}

func scanVersionLink(row rowScanner, link *types.EnvironmentVersionLink) error {
	var active int
	if err := row.Scan(&link.EnvironmentID, &link.GlobalVersionID, &link.DetectedAt,
		&active, &link.SyncStatus, &link.LastSyncDurationMS); err != nil {
		return err
	}
	link.IsActive = active == 1
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
