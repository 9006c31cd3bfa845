package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// UpsertLabels implements storage.MetadataStore. One transaction per
// batch. A nil ExpiresAt keeps the row for the global version's lifetime.
func (s *Store) UpsertLabels(ctx context.Context, versionID int64, labels []types.Label) error {
	if len(labels) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(conn *sql.Conn) error {
		now := time.Now().UTC()
		for _, l := range labels {
			if l.ID == "" {
				continue
			}
			lang := l.Language
			if lang == "" {
				lang = types.DefaultLanguage
			}
			var expires any
			if l.ExpiresAt != nil {
				expires = l.ExpiresAt.UTC()
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO labels_cache
					(global_version_id, label_id, language, label_text, resolved_at, expires_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(global_version_id, label_id, language) DO UPDATE SET
					label_text = excluded.label_text,
					resolved_at = excluded.resolved_at,
					expires_at = excluded.expires_at`,
				versionID, l.ID, lang, l.Value, now, expires); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapDBError("upsert labels", err)
}

// GetLabel implements storage.MetadataStore. Expired TTL rows read as
// misses.
func (s *Store) GetLabel(ctx context.Context, versionID int64, labelID, language string) (*types.Label, error) {
	if language == "" {
		language = types.DefaultLanguage
	}
	l := &types.Label{ID: labelID, Language: language}
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT label_text, resolved_at, expires_at FROM labels_cache
		WHERE global_version_id = ? AND label_id = ? AND language = ?`,
		versionID, labelID, language).Scan(&l.Value, &l.ResolvedAt, &expires)
	if err == sql.ErrNoRows {
		return nil, notFoundError("label", labelID)
	}
	if err != nil {
		return nil, wrapDBError("get label", err)
	}
	if expires.Valid {
		l.ExpiresAt = &expires.Time
		if expires.Time.Before(time.Now()) {
			return nil, notFoundError("label", labelID)
		}
	}
	return l, nil
}

// GetLabelsBatch implements storage.MetadataStore. Missing and expired
// ids are simply absent from the result map.
func (s *Store) GetLabelsBatch(ctx context.Context, versionID int64, labelIDs []string, language string) (map[string]string, error) {
	out := make(map[string]string, len(labelIDs))
	if len(labelIDs) == 0 {
		return out, nil
	}
	if language == "" {
		language = types.DefaultLanguage
	}

	placeholders := strings.Repeat("?,", len(labelIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(labelIDs)+2)
	args = append(args, versionID, language)
	for _, id := range labelIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT label_id, label_text, expires_at FROM labels_cache
		WHERE global_version_id = ? AND language = ? AND label_id IN (`+placeholders+`)`, args...) // #nosec G202 - placeholders only
	if err != nil {
		return nil, wrapDBError("get labels batch", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now()
	for rows.Next() {
		var id, text string
		var expires sql.NullTime
		if err := rows.Scan(&id, &text, &expires); err != nil {
			return nil, err
		}
		if expires.Valid && expires.Time.Before(now) {
			continue
		}
		out[id] = text
	}
	return out, rows.Err()
}
