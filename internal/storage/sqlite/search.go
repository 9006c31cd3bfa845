package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// RebuildSearchIndex implements storage.MetadataStore. The version's rows
// are deleted and repopulated in one transaction, strictly after the
// metadata rows were written, so a search never sees a half-built index.
func (s *Store) RebuildSearchIndex(ctx context.Context, versionID int64) error {
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx,
			`DELETE FROM metadata_search WHERE global_version_id = ?`, versionID); err != nil {
			return err
		}
		if err := indexDataEntities(ctx, conn, versionID); err != nil {
			return err
		}
		if err := indexPublicEntities(ctx, conn, versionID); err != nil {
			return err
		}
		if err := indexEnumerations(ctx, conn, versionID); err != nil {
			return err
		}
		if err := indexActions(ctx, conn, versionID); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx,
			`DELETE FROM fts_rebuild_queue WHERE global_version_id = ?`, versionID)
		return err
	})
	return wrapDBError("rebuild search index", err)
}

func indexDataEntities(ctx context.Context, conn *sql.Conn, versionID int64) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO metadata_search
			(entity_name, entity_type, entity_set_name, description, labels,
			 properties_text, actions_text, global_version_id, entity_id)
		SELECT name, 'data_entity', public_collection_name,
		       CASE WHEN label_text != '' THEN label_text ELSE name END,
		       label_id, '', '', global_version_id, id
		FROM data_entities WHERE global_version_id = ?`, versionID)
	return err
}

func indexPublicEntities(ctx context.Context, conn *sql.Conn, versionID int64) error {
	// properties_text: space-joined property names and types;
	// actions_text: space-joined bound action names.
	_, err := conn.ExecContext(ctx, `
		INSERT INTO metadata_search
			(entity_name, entity_type, entity_set_name, description, labels,
			 properties_text, actions_text, global_version_id, entity_id)
		SELECT pe.name, 'public_entity', pe.entity_set_name, pe.name, pe.label_id,
		       COALESCE((
		           SELECT group_concat(ep.name || ' ' || ep.data_type, ' ')
		           FROM entity_properties ep WHERE ep.public_entity_id = pe.id
		       ), ''),
		       COALESCE((
		           SELECT group_concat(ea.name, ' ')
		           FROM entity_actions ea
		           WHERE ea.global_version_id = pe.global_version_id AND ea.entity_name = pe.name
		       ), ''),
		       pe.global_version_id, pe.id
		FROM public_entities pe WHERE pe.global_version_id = ?`, versionID)
	return err
}

func indexEnumerations(ctx context.Context, conn *sql.Conn, versionID int64) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO metadata_search
			(entity_name, entity_type, entity_set_name, description, labels,
			 properties_text, actions_text, global_version_id, entity_id)
		SELECT e.name, 'enumeration', '', e.name, e.label_id,
		       COALESCE((
		           SELECT group_concat(m.name, ' ')
		           FROM enumeration_members m WHERE m.enumeration_id = e.id
		       ), ''),
		       '', e.global_version_id, e.id
		FROM enumerations e WHERE e.global_version_id = ?`, versionID)
	return err
}

func indexActions(ctx context.Context, conn *sql.Conn, versionID int64) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO metadata_search
			(entity_name, entity_type, entity_set_name, description, labels,
			 properties_text, actions_text, global_version_id, entity_id)
		SELECT a.name, 'action', a.entity_set_name,
		       CASE WHEN a.entity_name != ''
		            THEN a.name || ' on ' || a.entity_name
		            ELSE a.name END,
		       '',
		       COALESCE((
		           SELECT group_concat(p.name, ' ')
		           FROM action_parameters p WHERE p.action_id = a.id
		       ), ''),
		       a.name, a.global_version_id, a.id
		FROM entity_actions a WHERE a.global_version_id = ?`, versionID)
	return err
}

// Search implements storage.MetadataStore.
func (s *Store) Search(ctx context.Context, versionID int64, query *types.SearchQuery) ([]types.SearchResult, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = types.DefaultSearchLimit
	}
	if query.UseFullText && query.Text != "" {
		return s.searchFullText(ctx, versionID, query, limit)
	}
	return s.searchLike(ctx, versionID, query, limit)
}

// searchFullText runs an FTS MATCH scored by bm25 plus name boosts: an
// exact case-insensitive name match outranks everything, a name-prefix
// match outranks content-only matches (shorter names first), and bm25
// decides the rest. The boosts fold into the score so relevance is
// non-increasing down the list.
func (s *Store) searchFullText(ctx context.Context, versionID int64, query *types.SearchQuery, limit int) ([]types.SearchResult, error) {
	match := ftsMatchExpr(query.Text)
	if match == "" {
		return nil, nil
	}
	prefix := escapeLike(strings.TrimSpace(query.Text)) + "%"

	sqlQuery := `
		SELECT entity_name, entity_type, entity_set_name, description,
		       (CASE WHEN lower(entity_name) = lower(?) THEN 1000.0 ELSE 0.0 END
		        + CASE WHEN entity_name LIKE ? ESCAPE '\' THEN 100.0 - length(entity_name) ELSE 0.0 END
		        - bm25(metadata_search)) AS score,
		       snippet(metadata_search, 3, '<mark>', '</mark>', '...', 16) AS snip
		FROM metadata_search
		WHERE metadata_search MATCH ? AND global_version_id = ?`
	args := []any{query.Text, prefix, match, versionID}

	if len(query.EntityTypes) > 0 {
		placeholders := strings.Repeat("?,", len(query.EntityTypes))
		sqlQuery += ` AND entity_type IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, t := range query.EntityTypes {
			args = append(args, string(t))
		}
	}
	sqlQuery += `
		ORDER BY score DESC,
		         length(entity_name),
		         entity_name
		LIMIT ? OFFSET ?`
	args = append(args, limit, query.Offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...) // #nosec G202 - placeholders only
	if err != nil {
		return nil, wrapDBError("full-text search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var entityType string
		if err := rows.Scan(&r.Name, &entityType, &r.EntitySetName, &r.Description, &r.Relevance, &r.Snippet); err != nil {
			return nil, err
		}
		r.EntityType = types.SearchEntityType(entityType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ftsMatchExpr builds a safe FTS5 MATCH expression: each token quoted,
// prefix-matched, AND-joined.
func ftsMatchExpr(text string) string {
	var tokens []string
	for _, tok := range strings.Fields(text) {
		tok = strings.ReplaceAll(tok, `"`, `""`)
		if tok == "" {
			continue
		}
		tokens = append(tokens, fmt.Sprintf(`"%s"*`, tok))
	}
	return strings.Join(tokens, " AND ")
}

// searchLike is the non-FTS fallback: substring match on names over the
// base tables, with structured filters applied where they exist.
func (s *Store) searchLike(ctx context.Context, versionID int64, query *types.SearchQuery, limit int) ([]types.SearchResult, error) {
	wanted := map[types.SearchEntityType]bool{}
	if len(query.EntityTypes) == 0 {
		wanted[types.SearchDataEntity] = true
		wanted[types.SearchPublicEntity] = true
		wanted[types.SearchEnumeration] = true
		wanted[types.SearchAction] = true
	} else {
		for _, t := range query.EntityTypes {
			wanted[t] = true
		}
	}

	pattern := "%" + escapeLike(query.Text) + "%"
	var parts []string
	var args []any

	if wanted[types.SearchDataEntity] {
		part := `SELECT name, 'data_entity' AS entity_type, public_collection_name AS entity_set_name,
		                CASE WHEN label_text != '' THEN label_text ELSE name END AS description
		         FROM data_entities WHERE global_version_id = ? AND name LIKE ? ESCAPE '\'`
		args = append(args, versionID, pattern)
		if cat, ok := query.Filters["category"]; ok {
			part += ` AND entity_category = ?`
			args = append(args, cat)
		}
		if v, ok := query.Filters["is_read_only"]; ok {
			part += ` AND is_read_only = ?`
			args = append(args, boolFilter(v))
		}
		if v, ok := query.Filters["data_service_enabled"]; ok {
			part += ` AND data_service_enabled = ?`
			args = append(args, boolFilter(v))
		}
		parts = append(parts, part)
	}
	if wanted[types.SearchPublicEntity] {
		parts = append(parts, `SELECT name, 'public_entity', entity_set_name, name
		         FROM public_entities WHERE global_version_id = ? AND name LIKE ? ESCAPE '\'`)
		args = append(args, versionID, pattern)
	}
	if wanted[types.SearchEnumeration] {
		parts = append(parts, `SELECT name, 'enumeration', '', name
		         FROM enumerations WHERE global_version_id = ? AND name LIKE ? ESCAPE '\'`)
		args = append(args, versionID, pattern)
	}
	if wanted[types.SearchAction] {
		parts = append(parts, `SELECT name, 'action', entity_set_name, name
		         FROM entity_actions WHERE global_version_id = ? AND name LIKE ? ESCAPE '\'`)
		args = append(args, versionID, pattern)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	sqlQuery := strings.Join(parts, " UNION ALL ") + `
		ORDER BY (lower(name) = lower(?)) DESC, length(name), name
		LIMIT ? OFFSET ?`
	args = append(args, query.Text, limit, query.Offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...) // #nosec G202 - fixed fragments and placeholders
	if err != nil {
		return nil, wrapDBError("search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var entityType string
		if err := rows.Scan(&r.Name, &entityType, &r.EntitySetName, &r.Description); err != nil {
			return nil, err
		}
		r.EntityType = types.SearchEntityType(entityType)
		// Positional relevance keeps the contract that scores are
		// non-increasing.
		r.Relevance = float64(len(out)+query.Offset) * -1
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolFilter(v string) int {
	if v == "true" || v == "1" {
		return 1
	}
	return 0
}

// MetadataCounts implements storage.MetadataStore.
func (s *Store) MetadataCounts(ctx context.Context, versionID int64) (*storage.Counts, error) {
	c := &storage.Counts{}
	queries := []struct {
		table string
		dst   *int
	}{
		{"data_entities", &c.DataEntities},
		{"public_entities", &c.PublicEntities},
		{"enumerations", &c.Enumerations},
		{"entity_actions", &c.Actions},
		{"labels_cache", &c.Labels},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE global_version_id = ?`, q.table), // #nosec G201 - fixed table names
			versionID).Scan(q.dst); err != nil {
			return nil, wrapDBError("metadata counts", err)
		}
	}
	return c, nil
}
