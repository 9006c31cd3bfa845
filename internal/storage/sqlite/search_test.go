package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

func TestFullTextSearchRanking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	seedCustomerEntities(t, store, versionID)
	if err := store.RebuildSearchIndex(ctx, versionID); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}

	results, err := store.Search(ctx, versionID, &types.SearchQuery{
		Text:        "customer",
		UseFullText: true,
		EntityTypes: []types.SearchEntityType{types.SearchDataEntity},
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Name != "Customers" || results[1].Name != "CustomerGroups" {
		t.Errorf("order = [%s, %s], want [Customers, CustomerGroups]",
			results[0].Name, results[1].Name)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Relevance > results[i-1].Relevance {
			t.Errorf("relevance increased at %d: %f > %f", i, results[i].Relevance, results[i-1].Relevance)
		}
	}
}

func TestFullTextSearchSnippet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	seedCustomerEntities(t, store, versionID)
	if err := store.RebuildSearchIndex(ctx, versionID); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}

	results, err := store.Search(ctx, versionID, &types.SearchQuery{
		Text: "master", UseFullText: true, Limit: 5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no match for description text")
	}
	if !strings.Contains(results[0].Snippet, "<mark>") {
		t.Errorf("snippet not highlighted: %q", results[0].Snippet)
	}
}

// The index reflects a version's rows only after an explicit rebuild, and
// the rebuild replaces rather than appends.
func TestSearchIndexFreshness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	seedCustomerEntities(t, store, versionID)

	query := &types.SearchQuery{Text: "customer", UseFullText: true, Limit: 10}
	results, err := store.Search(ctx, versionID, query)
	if err != nil {
		t.Fatalf("search before rebuild: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("index populated before rebuild: %d rows", len(results))
	}

	if err := store.RebuildSearchIndex(ctx, versionID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := store.RebuildSearchIndex(ctx, versionID); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	results, err = store.Search(ctx, versionID, query)
	if err != nil {
		t.Fatalf("search after rebuild: %v", err)
	}
	seen := map[string]int{}
	for _, r := range results {
		seen[string(r.EntityType)+"/"+r.Name]++
	}
	for key, n := range seen {
		if n > 1 {
			t.Errorf("duplicate index rows for %s after repeated rebuild", key)
		}
	}
	if seen["data_entity/Customers"] != 1 {
		t.Errorf("Customers missing from rebuilt index: %v", seen)
	}
}

func TestSearchMatchesPropertyNames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	seedCustomerEntities(t, store, versionID)
	if err := store.RebuildSearchIndex(ctx, versionID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	results, err := store.Search(ctx, versionID, &types.SearchQuery{
		Text: "CustomerAccount", UseFullText: true, Limit: 5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.EntityType == types.SearchPublicEntity && r.Name == "Customer" {
			found = true
		}
	}
	if !found {
		t.Errorf("property name did not surface its entity: %+v", results)
	}
}

func TestSearchLikeFallbackAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	seedCustomerEntities(t, store, versionID)

	// No FTS rebuild needed for the LIKE path.
	results, err := store.Search(ctx, versionID, &types.SearchQuery{
		Text:        "sales",
		EntityTypes: []types.SearchEntityType{types.SearchDataEntity},
		Filters:     map[string]string{"is_read_only": "true"},
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Name != "SalesOrders" {
		t.Errorf("filtered results = %+v", results)
	}
}

func TestSearchExactNamePrecedesPrefixMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	if err := store.UpsertDataEntities(ctx, versionID, []*types.DataEntity{
		{Name: "Vendors"}, {Name: "VendorsV2"}, {Name: "VendorsV3"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.RebuildSearchIndex(ctx, versionID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	results, err := store.Search(ctx, versionID, &types.SearchQuery{
		Text: "vendors", UseFullText: true, Limit: 3,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].Name != "Vendors" {
		t.Errorf("exact name not first: %+v", results)
	}
}

func TestMetadataCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	seedCustomerEntities(t, store, versionID)

	c, err := store.MetadataCounts(ctx, versionID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if c.DataEntities != 3 || c.PublicEntities != 1 || c.Actions != 1 {
		t.Errorf("counts = %+v", c)
	}
}
