package types

// SearchEntityType restricts a search to one metadata kind.
type SearchEntityType string

// Searchable metadata kinds
const (
	SearchDataEntity   SearchEntityType = "data_entity"
	SearchPublicEntity SearchEntityType = "public_entity"
	SearchEnumeration  SearchEntityType = "enumeration"
	SearchAction       SearchEntityType = "action"
)

// IsValid checks if the search entity type is valid
func (t SearchEntityType) IsValid() bool {
	switch t {
	case SearchDataEntity, SearchPublicEntity, SearchEnumeration, SearchAction:
		return true
	}
	return false
}

// SearchQuery describes one metadata search.
type SearchQuery struct {
	// Text is matched against names and descriptions. Empty text with
	// filters set is a pure filter scan.
	Text string `json:"text,omitempty"`
	// EntityTypes restricts the kinds searched. Empty means all kinds.
	EntityTypes []SearchEntityType `json:"entity_types,omitempty"`
	// Filters are structured predicates on entity attributes, keyed by
	// attribute name (category, is_read_only, data_service_enabled, ...).
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
	Offset  int               `json:"offset,omitempty"`
	// UseFullText selects the FTS index when text is present. When false
	// the engine falls back to substring matching.
	UseFullText bool `json:"use_full_text,omitempty"`
}

// DefaultSearchLimit bounds result pages when the caller does not set one.
const DefaultSearchLimit = 50

// SearchResult is one search hit.
type SearchResult struct {
	Name          string           `json:"name"`
	EntityType    SearchEntityType `json:"entity_type"`
	EntitySetName string           `json:"entity_set_name,omitempty"`
	Description   string           `json:"description,omitempty"`
	// Relevance is the ranking score. Higher ranks earlier. For FTS
	// queries this derives from bm25; for LIKE fallback it is positional.
	Relevance float64 `json:"relevance"`
	// Snippet is a match excerpt with <mark> delimiters, FTS queries only.
	Snippet string `json:"snippet,omitempty"`
}

// Page is one page of results with a cursor for the next page.
// NextOffset is 0 when the page is the last one.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total,omitempty"`
	NextOffset int `json:"next_offset,omitempty"`
}
