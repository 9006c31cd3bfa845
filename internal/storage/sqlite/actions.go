package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// UpsertActions implements storage.MetadataStore. One transaction for the
// whole batch.
func (s *Store) UpsertActions(ctx context.Context, versionID int64, actions []*types.EntityAction) error {
	if len(actions) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		for _, a := range actions {
			if err := upsertAction(ctx, conn, versionID, a); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapDBError("upsert actions", err)
}

func upsertAction(ctx context.Context, conn *sql.Conn, versionID int64, a *types.EntityAction) error {
	var returnType string
	var returnIsCollection int
	if a.ReturnType != nil {
		returnType = a.ReturnType.TypeName
		returnIsCollection = boolInt(a.ReturnType.IsCollection)
	}
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO entity_actions
			(global_version_id, name, binding_kind, entity_name, entity_set_name,
			 return_type_name, return_is_collection, field_lookup)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(global_version_id, name, entity_name) DO UPDATE SET
			binding_kind = excluded.binding_kind,
			entity_set_name = excluded.entity_set_name,
			return_type_name = excluded.return_type_name,
			return_is_collection = excluded.return_is_collection,
			field_lookup = excluded.field_lookup`,
		versionID, a.Name, string(a.BindingKind), a.EntityName, a.EntitySetName,
		returnType, returnIsCollection, a.FieldLookup); err != nil {
		return err
	}

	var actionID int64
	if err := conn.QueryRowContext(ctx, `
		SELECT id FROM entity_actions
		WHERE global_version_id = ? AND name = ? AND entity_name = ?`,
		versionID, a.Name, a.EntityName).Scan(&actionID); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		`DELETE FROM action_parameters WHERE action_id = ?`, actionID); err != nil {
		return err
	}
	for i, p := range a.Parameters {
		order := p.Order
		if order == 0 {
			order = i
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO action_parameters (action_id, name, type_name, is_collection, parameter_order)
			VALUES (?, ?, ?, ?, ?)`,
			actionID, p.Name, p.Type.TypeName, boolInt(p.Type.IsCollection), order); err != nil {
			return err
		}
	}
	return nil
}

// ListActions implements storage.MetadataStore.
func (s *Store) ListActions(ctx context.Context, versionID int64, filter storage.ActionFilter, limit, offset int) (*types.Page[*types.EntityAction], error) {
	where := []string{"global_version_id = ?"}
	args := []any{versionID}

	if filter.EntityName != "" {
		where = append(where, "entity_name = ? COLLATE NOCASE")
		args = append(args, filter.EntityName)
	}
	if filter.BindingKind != "" {
		where = append(where, "binding_kind = ?")
		args = append(args, string(filter.BindingKind))
	}
	if filter.NamePattern != "" {
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.NamePattern)+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_actions WHERE `+cond, args...).Scan(&total); err != nil { // #nosec G202 - cond built from fixed predicates
		return nil, wrapDBError("count actions", err)
	}

	if limit <= 0 {
		limit = types.DefaultSearchLimit
	}
	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, binding_kind, entity_name, entity_set_name,
		       return_type_name, return_is_collection, field_lookup
		FROM entity_actions WHERE `+cond+`
		ORDER BY name, entity_name LIMIT ? OFFSET ?`, queryArgs...) // #nosec G202
	if err != nil {
		return nil, wrapDBError("list actions", err)
	}
	defer func() { _ = rows.Close() }()

	page := &types.Page[*types.EntityAction]{Total: total}
	var actionIDs []int64
	for rows.Next() {
		a := &types.EntityAction{}
		var actionID int64
		var binding, returnType string
		var returnIsCollection int
		if err := rows.Scan(&actionID, &a.Name, &binding, &a.EntityName, &a.EntitySetName,
			&returnType, &returnIsCollection, &a.FieldLookup); err != nil {
			return nil, err
		}
		a.BindingKind = types.BindingKind(binding)
		if returnType != "" {
			a.ReturnType = &types.ActionReturnType{TypeName: returnType, IsCollection: returnIsCollection == 1}
		}
		page.Items = append(page.Items, a)
		actionIDs = append(actionIDs, actionID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, actionID := range actionIDs {
		params, err := s.actionParameters(ctx, actionID)
		if err != nil {
			return nil, err
		}
		page.Items[i].Parameters = params
	}
	if offset+len(page.Items) < total {
		page.NextOffset = offset + len(page.Items)
	}
	return page, nil
}

// actionsForEntity loads the bound actions of one entity, parameters
// included.
func (s *Store) actionsForEntity(ctx context.Context, versionID int64, entityName string) ([]types.EntityAction, error) {
	page, err := s.ListActions(ctx, versionID, storage.ActionFilter{EntityName: entityName}, 1000, 0)
	if err != nil {
		return nil, err
	}
	out := make([]types.EntityAction, 0, len(page.Items))
	for _, a := range page.Items {
		out = append(out, *a)
	}
	return out, nil
}

func (s *Store) actionParameters(ctx context.Context, actionID int64) ([]types.ActionParameter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type_name, is_collection, parameter_order
		FROM action_parameters
		WHERE action_id = ? ORDER BY parameter_order, id`, actionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var params []types.ActionParameter
	for rows.Next() {
		var p types.ActionParameter
		var isCollection int
		if err := rows.Scan(&p.Name, &p.Type.TypeName, &isCollection, &p.Order); err != nil {
			return nil, err
		}
		p.Type.IsCollection = isCollection == 1
		params = append(params, p)
	}
	return params, rows.Err()
}
