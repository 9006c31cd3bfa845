package sqlite

import (
	"context"
	"database/sql"

	"github.com/dynamicsmcp/fomcp/internal/storage"
)

// CopyVersionMetadata implements storage.MetadataStore. Used by the
// incremental strategy to reuse rows from a prior completed version
// instead of refetching them. Child rows follow their parents. The whole
// copy is one transaction; rows already present under the target version
// are left alone.
func (s *Store) CopyVersionMetadata(ctx context.Context, fromID, toID int64, kinds storage.CopyKinds) (int, error) {
	var copied int
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		if kinds.Entities {
			n, err := copyEntities(ctx, conn, fromID, toID)
			if err != nil {
				return err
			}
			copied += n
		}
		if kinds.Enumerations {
			n, err := copyEnumerations(ctx, conn, fromID, toID)
			if err != nil {
				return err
			}
			copied += n
		}
		if kinds.Actions {
			n, err := copyActions(ctx, conn, fromID, toID)
			if err != nil {
				return err
			}
			copied += n
		}
		if kinds.Labels {
			res, err := conn.ExecContext(ctx, `
				INSERT OR IGNORE INTO labels_cache
					(global_version_id, label_id, language, label_text, resolved_at, expires_at)
				SELECT ?, label_id, language, label_text, resolved_at, expires_at
				FROM labels_cache WHERE global_version_id = ?`, toID, fromID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			copied += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, wrapDBError("copy version metadata", err)
	}
	return copied, nil
}

func copyEntities(ctx context.Context, conn *sql.Conn, fromID, toID int64) (int, error) {
	res, err := conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO data_entities
			(global_version_id, name, public_entity_name, public_collection_name,
			 label_id, label_text, data_service_enabled, data_management_enabled,
			 entity_category, is_read_only)
		SELECT ?, name, public_entity_name, public_collection_name,
		       label_id, label_text, data_service_enabled, data_management_enabled,
		       entity_category, is_read_only
		FROM data_entities WHERE global_version_id = ?`, toID, fromID)
	if err != nil {
		return 0, err
	}
	count, _ := res.RowsAffected()

	// Public entities need row-by-row copies so the fresh ids can carry
	// the child tables over.
	rows, err := conn.QueryContext(ctx, `
		SELECT id, name, entity_set_name, label_id, is_read_only, configuration_enabled
		FROM public_entities WHERE global_version_id = ?`, fromID)
	if err != nil {
		return 0, err
	}
	type peRow struct {
		id                 int64
		name, set, labelID string
		ro, ce             int
	}
	var sources []peRow
	for rows.Next() {
		var r peRow
		if err := rows.Scan(&r.id, &r.name, &r.set, &r.labelID, &r.ro, &r.ce); err != nil {
			_ = rows.Close()
			return 0, err
		}
		sources = append(sources, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, src := range sources {
		res, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO public_entities
				(global_version_id, name, entity_set_name, label_id, is_read_only, configuration_enabled)
			VALUES (?, ?, ?, ?, ?, ?)`,
			toID, src.name, src.set, src.labelID, src.ro, src.ce)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		count++

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO entity_properties
				(public_entity_id, name, type_name, data_type, odata_xpp_type, label_id,
				 is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create,
				 is_dimension, dimension_relation, is_dynamic_field_property, group_name, property_order)
			SELECT ?, name, type_name, data_type, odata_xpp_type, label_id,
			       is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create,
			       is_dimension, dimension_relation, is_dynamic_field_property, group_name, property_order
			FROM entity_properties WHERE public_entity_id = ?`, newID, src.id); err != nil {
			return 0, err
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO property_groups (public_entity_id, name, properties)
			SELECT ?, name, properties FROM property_groups WHERE public_entity_id = ?`,
			newID, src.id); err != nil {
			return 0, err
		}

		navRows, err := conn.QueryContext(ctx, `
			SELECT id, name, related_entity, related_relation_name, cardinality
			FROM navigation_properties WHERE public_entity_id = ?`, src.id)
		if err != nil {
			return 0, err
		}
		type navRow struct {
			id                  int64
			name, rel, reln, ca string
		}
		var navs []navRow
		for navRows.Next() {
			var n navRow
			if err := navRows.Scan(&n.id, &n.name, &n.rel, &n.reln, &n.ca); err != nil {
				_ = navRows.Close()
				return 0, err
			}
			navs = append(navs, n)
		}
		_ = navRows.Close()
		if err := navRows.Err(); err != nil {
			return 0, err
		}
		for _, nav := range navs {
			navRes, err := conn.ExecContext(ctx, `
				INSERT INTO navigation_properties
					(public_entity_id, name, related_entity, related_relation_name, cardinality)
				VALUES (?, ?, ?, ?, ?)`, newID, nav.name, nav.rel, nav.reln, nav.ca)
			if err != nil {
				return 0, err
			}
			newNavID, err := navRes.LastInsertId()
			if err != nil {
				return 0, err
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO relation_constraints
					(navigation_property_id, constraint_type, property, referenced_property,
					 related_property, value, value_str)
				SELECT ?, constraint_type, property, referenced_property,
				       related_property, value, value_str
				FROM relation_constraints WHERE navigation_property_id = ?`,
				newNavID, nav.id); err != nil {
				return 0, err
			}
		}
	}
	return int(count), nil
}

func copyEnumerations(ctx context.Context, conn *sql.Conn, fromID, toID int64) (int, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, name, label_id FROM enumerations WHERE global_version_id = ?`, fromID)
	if err != nil {
		return 0, err
	}
	type enumRow struct {
		id            int64
		name, labelID string
	}
	var sources []enumRow
	for rows.Next() {
		var r enumRow
		if err := rows.Scan(&r.id, &r.name, &r.labelID); err != nil {
			_ = rows.Close()
			return 0, err
		}
		sources = append(sources, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, src := range sources {
		res, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO enumerations (global_version_id, name, label_id)
			VALUES (?, ?, ?)`, toID, src.name, src.labelID)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO enumeration_members
				(enumeration_id, name, value, label_id, configuration_enabled, member_order)
			SELECT ?, name, value, label_id, configuration_enabled, member_order
			FROM enumeration_members WHERE enumeration_id = ?`, newID, src.id); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

func copyActions(ctx context.Context, conn *sql.Conn, fromID, toID int64) (int, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, name, binding_kind, entity_name, entity_set_name,
		       return_type_name, return_is_collection, field_lookup
		FROM entity_actions WHERE global_version_id = ?`, fromID)
	if err != nil {
		return 0, err
	}
	type actionRow struct {
		id                         int64
		name, binding, entity, set string
		returnType, fieldLookup    string
		returnIsCollection         int
	}
	var sources []actionRow
	for rows.Next() {
		var r actionRow
		if err := rows.Scan(&r.id, &r.name, &r.binding, &r.entity, &r.set,
			&r.returnType, &r.returnIsCollection, &r.fieldLookup); err != nil {
			_ = rows.Close()
			return 0, err
		}
		sources = append(sources, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, src := range sources {
		res, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_actions
				(global_version_id, name, binding_kind, entity_name, entity_set_name,
				 return_type_name, return_is_collection, field_lookup)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			toID, src.name, src.binding, src.entity, src.set,
			src.returnType, src.returnIsCollection, src.fieldLookup)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO action_parameters (action_id, name, type_name, is_collection, parameter_order)
			SELECT ?, name, type_name, is_collection, parameter_order
			FROM action_parameters WHERE action_id = ?`, newID, src.id); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}
