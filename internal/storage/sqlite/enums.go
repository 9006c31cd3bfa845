package sqlite

import (
	"context"
	"database/sql"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// UpsertEnumerations implements storage.MetadataStore. Members are
// replaced wholesale per enum; the batch is one transaction.
func (s *Store) UpsertEnumerations(ctx context.Context, versionID int64, enums []*types.Enumeration) error {
	if len(enums) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		for _, e := range enums {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO enumerations (global_version_id, name, label_id)
				VALUES (?, ?, ?)
				ON CONFLICT(global_version_id, name) DO UPDATE SET
					label_id = excluded.label_id`,
				versionID, e.Name, e.LabelID); err != nil {
				return err
			}
			var enumID int64
			if err := conn.QueryRowContext(ctx, `
				SELECT id FROM enumerations WHERE global_version_id = ? AND name = ?`,
				versionID, e.Name).Scan(&enumID); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx,
				`DELETE FROM enumeration_members WHERE enumeration_id = ?`, enumID); err != nil {
				return err
			}
			for i, m := range e.Members {
				order := m.Order
				if order == 0 {
					order = i
				}
				if _, err := conn.ExecContext(ctx, `
					INSERT INTO enumeration_members
						(enumeration_id, name, value, label_id, configuration_enabled, member_order)
					VALUES (?, ?, ?, ?, ?, ?)`,
					enumID, m.Name, m.Value, m.LabelID, boolInt(m.ConfigurationEnabled), order); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return wrapDBError("upsert enumerations", err)
}

// GetEnumeration implements storage.MetadataStore.
func (s *Store) GetEnumeration(ctx context.Context, versionID int64, name string) (*types.Enumeration, error) {
	e := &types.Enumeration{}
	var enumID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, label_id FROM enumerations
		WHERE global_version_id = ? AND name = ? COLLATE NOCASE`,
		versionID, name).Scan(&enumID, &e.Name, &e.LabelID)
	if err == sql.ErrNoRows {
		return nil, notFoundError("enumeration", name)
	}
	if err != nil {
		return nil, wrapDBError("get enumeration", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, label_id, configuration_enabled, member_order
		FROM enumeration_members
		WHERE enumeration_id = ? ORDER BY member_order, value`, enumID)
	if err != nil {
		return nil, wrapDBError("get enumeration members", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m types.EnumerationMember
		var ce int
		if err := rows.Scan(&m.Name, &m.Value, &m.LabelID, &ce, &m.Order); err != nil {
			return nil, err
		}
		m.ConfigurationEnabled = ce == 1
		e.Members = append(e.Members, m)
	}
	return e, rows.Err()
}
