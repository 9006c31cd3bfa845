package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// UpsertDataEntities implements storage.MetadataStore. The whole batch is
// one transaction.
func (s *Store) UpsertDataEntities(ctx context.Context, versionID int64, entities []*types.DataEntity) error {
	if len(entities) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		for _, e := range entities {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO data_entities
					(global_version_id, name, public_entity_name, public_collection_name,
					 label_id, label_text, data_service_enabled, data_management_enabled,
					 entity_category, is_read_only)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(global_version_id, name) DO UPDATE SET
					public_entity_name = excluded.public_entity_name,
					public_collection_name = excluded.public_collection_name,
					label_id = excluded.label_id,
					label_text = excluded.label_text,
					data_service_enabled = excluded.data_service_enabled,
					data_management_enabled = excluded.data_management_enabled,
					entity_category = excluded.entity_category,
					is_read_only = excluded.is_read_only`,
				versionID, e.Name, e.PublicEntityName, e.PublicCollectionName,
				e.LabelID, e.LabelText, boolInt(e.DataServiceEnabled), boolInt(e.DataManagementEnabled),
				string(e.EntityCategory), boolInt(e.IsReadOnly)); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapDBError("upsert data entities", err)
}

// UpsertPublicEntities implements storage.MetadataStore. Child rows
// (properties, navigations, constraints, groups) are replaced wholesale
// per entity; the batch is one transaction.
func (s *Store) UpsertPublicEntities(ctx context.Context, versionID int64, entities []*types.PublicEntity) error {
	if len(entities) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		for _, e := range entities {
			if err := upsertPublicEntity(ctx, conn, versionID, e); err != nil {
				return fmt.Errorf("entity %s: %w", e.Name, err)
			}
		}
		return nil
	})
	return wrapDBError("upsert public entities", err)
}

func upsertPublicEntity(ctx context.Context, conn *sql.Conn, versionID int64, e *types.PublicEntity) error {
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO public_entities
			(global_version_id, name, entity_set_name, label_id, is_read_only, configuration_enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(global_version_id, name) DO UPDATE SET
			entity_set_name = excluded.entity_set_name,
			label_id = excluded.label_id,
			is_read_only = excluded.is_read_only,
			configuration_enabled = excluded.configuration_enabled`,
		versionID, e.Name, e.EntitySetName, e.LabelID,
		boolInt(e.IsReadOnly), boolInt(e.ConfigurationEnabled)); err != nil {
		return err
	}

	var entityID int64
	if err := conn.QueryRowContext(ctx, `
		SELECT id FROM public_entities WHERE global_version_id = ? AND name = ?`,
		versionID, e.Name).Scan(&entityID); err != nil {
		return err
	}

	// Replace children wholesale; cascades clear constraints with their
	// navigations.
	for _, table := range []string{"entity_properties", "navigation_properties", "property_groups"} {
		if _, err := conn.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE public_entity_id = ?`, table), entityID); err != nil { // #nosec G201 - fixed table names
			return err
		}
	}

	for i, p := range e.Properties {
		order := p.Order
		if order == 0 {
			order = i
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO entity_properties
				(public_entity_id, name, type_name, data_type, odata_xpp_type, label_id,
				 is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create,
				 is_dimension, dimension_relation, is_dynamic_field_property, group_name, property_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entityID, p.Name, p.TypeName, p.DataType, p.OdataXppType, p.LabelID,
			boolInt(p.IsKey), boolInt(p.IsMandatory), boolInt(p.ConfigurationEnabled),
			boolInt(p.AllowEdit), boolInt(p.AllowEditOnCreate),
			boolInt(p.IsDimension), p.DimensionRelation, boolInt(p.IsDynamicFieldProperty),
			p.GroupName, order); err != nil {
			return err
		}
	}

	for _, nav := range e.NavigationProperties {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO navigation_properties
				(public_entity_id, name, related_entity, related_relation_name, cardinality)
			VALUES (?, ?, ?, ?, ?)`,
			entityID, nav.Name, nav.RelatedEntity, nav.RelatedRelationName, string(nav.Cardinality))
		if err != nil {
			return err
		}
		navID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, c := range nav.Constraints {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO relation_constraints
					(navigation_property_id, constraint_type, property, referenced_property,
					 related_property, value, value_str)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				navID, string(c.ConstraintType), c.Property, c.ReferencedProperty,
				c.RelatedProperty, nullableInt(c.Value), c.ValueStr); err != nil {
				return err
			}
		}
	}

	for _, g := range e.PropertyGroups {
		props, err := json.Marshal(g.Properties)
		if err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO property_groups (public_entity_id, name, properties)
			VALUES (?, ?, ?)`, entityID, g.Name, string(props)); err != nil {
			return err
		}
	}

	// Bound actions ride along with the entity schema.
	for _, a := range e.Actions {
		if err := upsertAction(ctx, conn, versionID, &a); err != nil {
			return err
		}
	}
	return nil
}

// GetDataEntity implements storage.MetadataStore.
func (s *Store) GetDataEntity(ctx context.Context, versionID int64, name string) (*types.DataEntity, error) {
	e := &types.DataEntity{}
	var dse, dme, ro int
	var category string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, public_entity_name, public_collection_name, label_id, label_text,
		       data_service_enabled, data_management_enabled, entity_category, is_read_only
		FROM data_entities
		WHERE global_version_id = ? AND name = ? COLLATE NOCASE`,
		versionID, name).Scan(
		&e.Name, &e.PublicEntityName, &e.PublicCollectionName, &e.LabelID, &e.LabelText,
		&dse, &dme, &category, &ro)
	if err == sql.ErrNoRows {
		return nil, notFoundError("data entity", name)
	}
	if err != nil {
		return nil, wrapDBError("get data entity", err)
	}
	e.DataServiceEnabled = dse == 1
	e.DataManagementEnabled = dme == 1
	e.EntityCategory = types.EntityCategory(category)
	e.IsReadOnly = ro == 1
	return e, nil
}

// GetPublicEntity implements storage.MetadataStore. Loads the full shape:
// properties, navigations with constraints, groups, and bound actions.
func (s *Store) GetPublicEntity(ctx context.Context, versionID int64, name string) (*types.PublicEntity, error) {
	e := &types.PublicEntity{}
	var entityID int64
	var ro, ce int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_set_name, label_id, is_read_only, configuration_enabled
		FROM public_entities
		WHERE global_version_id = ? AND (name = ? COLLATE NOCASE OR entity_set_name = ? COLLATE NOCASE)`,
		versionID, name, name).Scan(&entityID, &e.Name, &e.EntitySetName, &e.LabelID, &ro, &ce)
	if err == sql.ErrNoRows {
		return nil, notFoundError("public entity", name)
	}
	if err != nil {
		return nil, wrapDBError("get public entity", err)
	}
	e.IsReadOnly = ro == 1
	e.ConfigurationEnabled = ce == 1

	if err := s.loadProperties(ctx, entityID, e); err != nil {
		return nil, wrapDBError("load properties", err)
	}
	if err := s.loadNavigations(ctx, entityID, e); err != nil {
		return nil, wrapDBError("load navigations", err)
	}
	if err := s.loadPropertyGroups(ctx, entityID, e); err != nil {
		return nil, wrapDBError("load property groups", err)
	}
	actions, err := s.actionsForEntity(ctx, versionID, e.Name)
	if err != nil {
		return nil, wrapDBError("load actions", err)
	}
	e.Actions = actions
	return e, nil
}

func (s *Store) loadProperties(ctx context.Context, entityID int64, e *types.PublicEntity) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type_name, data_type, odata_xpp_type, label_id,
		       is_key, is_mandatory, configuration_enabled, allow_edit, allow_edit_on_create,
		       is_dimension, dimension_relation, is_dynamic_field_property, group_name, property_order
		FROM entity_properties
		WHERE public_entity_id = ? ORDER BY property_order, id`, entityID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var p types.EntityProperty
		var key, mand, ce, ae, aec, dim, dyn int
		if err := rows.Scan(&p.Name, &p.TypeName, &p.DataType, &p.OdataXppType, &p.LabelID,
			&key, &mand, &ce, &ae, &aec, &dim, &p.DimensionRelation, &dyn,
			&p.GroupName, &p.Order); err != nil {
			return err
		}
		p.IsKey, p.IsMandatory, p.ConfigurationEnabled = key == 1, mand == 1, ce == 1
		p.AllowEdit, p.AllowEditOnCreate = ae == 1, aec == 1
		p.IsDimension, p.IsDynamicFieldProperty = dim == 1, dyn == 1
		e.Properties = append(e.Properties, p)
	}
	return rows.Err()
}

func (s *Store) loadNavigations(ctx context.Context, entityID int64, e *types.PublicEntity) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, related_entity, related_relation_name, cardinality
		FROM navigation_properties
		WHERE public_entity_id = ? ORDER BY id`, entityID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var navIDs []int64
	for rows.Next() {
		var nav types.NavigationProperty
		var navID int64
		var card string
		if err := rows.Scan(&navID, &nav.Name, &nav.RelatedEntity, &nav.RelatedRelationName, &card); err != nil {
			return err
		}
		nav.Cardinality = types.Cardinality(card)
		e.NavigationProperties = append(e.NavigationProperties, nav)
		navIDs = append(navIDs, navID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, navID := range navIDs {
		crows, err := s.db.QueryContext(ctx, `
			SELECT constraint_type, property, referenced_property, related_property, value, value_str
			FROM relation_constraints
			WHERE navigation_property_id = ? ORDER BY id`, navID)
		if err != nil {
			return err
		}
		for crows.Next() {
			var c types.RelationConstraint
			var ctype string
			var value sql.NullInt64
			if err := crows.Scan(&ctype, &c.Property, &c.ReferencedProperty, &c.RelatedProperty, &value, &c.ValueStr); err != nil {
				_ = crows.Close()
				return err
			}
			c.ConstraintType = types.ConstraintType(ctype)
			if value.Valid {
				v := int(value.Int64)
				c.Value = &v
			}
			e.NavigationProperties[i].Constraints = append(e.NavigationProperties[i].Constraints, c)
		}
		_ = crows.Close()
		if err := crows.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadPropertyGroups(ctx context.Context, entityID int64, e *types.PublicEntity) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, properties FROM property_groups
		WHERE public_entity_id = ? ORDER BY id`, entityID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var g types.PropertyGroup
		var props string
		if err := rows.Scan(&g.Name, &props); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(props), &g.Properties); err != nil {
			return err
		}
		e.PropertyGroups = append(e.PropertyGroups, g)
	}
	return rows.Err()
}

// ListDataEntities implements storage.MetadataStore.
func (s *Store) ListDataEntities(ctx context.Context, versionID int64, filter storage.EntityFilter, limit, offset int) (*types.Page[*types.DataEntity], error) {
	where := []string{"global_version_id = ?"}
	args := []any{versionID}

	if filter.Category != "" {
		where = append(where, "entity_category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.DataServiceEnabled != nil {
		where = append(where, "data_service_enabled = ?")
		args = append(args, boolInt(*filter.DataServiceEnabled))
	}
	if filter.DataManagementEnabled != nil {
		where = append(where, "data_management_enabled = ?")
		args = append(args, boolInt(*filter.DataManagementEnabled))
	}
	if filter.IsReadOnly != nil {
		where = append(where, "is_read_only = ?")
		args = append(args, boolInt(*filter.IsReadOnly))
	}
	if filter.NamePattern != "" {
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.NamePattern)+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM data_entities WHERE `+cond, args...).Scan(&total); err != nil { // #nosec G202 - cond built from fixed predicates
		return nil, wrapDBError("count data entities", err)
	}

	if limit <= 0 {
		limit = types.DefaultSearchLimit
	}
	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, public_entity_name, public_collection_name, label_id, label_text,
		       data_service_enabled, data_management_enabled, entity_category, is_read_only
		FROM data_entities WHERE `+cond+`
		ORDER BY name LIMIT ? OFFSET ?`, queryArgs...) // #nosec G202
	if err != nil {
		return nil, wrapDBError("list data entities", err)
	}
	defer func() { _ = rows.Close() }()

	page := &types.Page[*types.DataEntity]{Total: total}
	for rows.Next() {
		e := &types.DataEntity{}
		var dse, dme, ro int
		var category string
		if err := rows.Scan(&e.Name, &e.PublicEntityName, &e.PublicCollectionName,
			&e.LabelID, &e.LabelText, &dse, &dme, &category, &ro); err != nil {
			return nil, err
		}
		e.DataServiceEnabled, e.DataManagementEnabled = dse == 1, dme == 1
		e.EntityCategory = types.EntityCategory(category)
		e.IsReadOnly = ro == 1
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if offset+len(page.Items) < total {
		page.NextOffset = offset + len(page.Items)
	}
	return page, nil
}

// escapeLike escapes LIKE metacharacters in user-supplied patterns.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
