// Package search answers free-text and structured queries over the
// cached metadata of one global version. The heavy lifting (FTS MATCH,
// ranking, the LIKE fallback) lives in the store; the engine validates
// and normalizes queries before they reach SQL.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Result paging bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// Engine runs searches against a metadata store.
type Engine struct {
	store storage.MetadataStore
}

// NewEngine builds an engine over the store.
func NewEngine(store storage.MetadataStore) *Engine {
	return &Engine{store: store}
}

// Search validates and normalizes the query, then runs it against the
// version's rows. An empty query with no filters returns no results
// rather than a full scan.
func (e *Engine) Search(ctx context.Context, versionID int64, query *types.SearchQuery) ([]types.SearchResult, error) {
	if query == nil {
		return nil, fmt.Errorf("search query is required")
	}
	q := *query
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" && len(q.Filters) == 0 {
		return nil, nil
	}
	for _, et := range q.EntityTypes {
		if !et.IsValid() {
			return nil, fmt.Errorf("unknown entity type %q", et)
		}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	// FTS needs text to match on; a filter-only query walks the base tables.
	if q.Text == "" {
		q.UseFullText = false
	}
	return e.store.Search(ctx, versionID, &q)
}
