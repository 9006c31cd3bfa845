package labels

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamicsmcp/fomcp/internal/odata/odatatest"
	"github.com/dynamicsmcp/fomcp/internal/storage/sqlite"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// fakeFetcher serves label texts from an in-memory table and records
// every request it sees.
type fakeFetcher struct {
	mu    sync.Mutex
	calls [][]string
	langs []string
	texts map[string]map[string]string // language -> id -> text
	err   error
}

func (f *fakeFetcher) FetchLabels(ctx context.Context, ids []string, language string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]string, len(ids))
	copy(snapshot, ids)
	f.calls = append(f.calls, snapshot)
	f.langs = append(f.langs, language)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if text, ok := f.texts[language][id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestResolver(t *testing.T, fetcher Fetcher) (*Resolver, *sqlite.Store, int64) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, t.TempDir()+"/metadata.sqlite")
	require.NoError(t, err, "open store")
	t.Cleanup(func() { _ = store.Close() })

	env, err := store.GetOrCreateEnvironment(ctx, "https://labels.example", "test")
	require.NoError(t, err, "create environment")
	modules := []types.Module{{ModuleID: "ApplicationPlatform", Name: "ApplicationPlatform", Version: "7.0.7521.60"}}
	hash := types.ComputeModulesHash(modules)
	gv, err := store.CreateGlobalVersion(ctx, &types.EnvironmentVersion{
		Modules:     modules,
		ModulesHash: hash,
		VersionHash: types.ShortVersionHash(hash),
	}, env.ID)
	require.NoError(t, err, "create global version")
	require.NoError(t, store.LinkEnvironmentToVersion(ctx, env.ID, gv.ID), "link environment")
	return NewResolver(store, fetcher, nil), store, gv.ID
}

func TestConcurrentLookupsShareOneRequest(t *testing.T) {
	texts := map[string]string{}
	for i := 1; i <= 10; i++ {
		texts[fmt.Sprintf("@SYS%d", i)] = fmt.Sprintf("Label %d", i)
	}
	fetcher := &fakeFetcher{texts: map[string]map[string]string{"en-US": texts}}
	r, _, versionID := newTestResolver(t, fetcher)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	got := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("@SYS%d", i+1)
			text, ok, err := r.GetLabel(context.Background(), versionID, id, "en-US", false)
			if err != nil {
				errs[i] = err
				return
			}
			if !ok {
				errs[i] = fmt.Errorf("%s did not resolve", id)
				return
			}
			got[i] = text
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "lookup %d", i)
	}
	for i, text := range got {
		assert.Equal(t, fmt.Sprintf("Label %d", i+1), text, "label %d", i+1)
	}
	require.Equal(t, 1, fetcher.callCount(), "remote requests")
	assert.Len(t, fetcher.calls[0], 10, "batched ids")
}

func TestFetchedLabelsPersistToDatabase(t *testing.T) {
	fetcher := &fakeFetcher{texts: map[string]map[string]string{
		"en-US": {"@SYS1": "Customer"},
	}}
	r, store, versionID := newTestResolver(t, fetcher)
	ctx := context.Background()

	_, _, err := r.GetLabel(ctx, versionID, "@SYS1", "en-US", false)
	require.NoError(t, err, "first lookup")

	// The remote result is now a database row; the second lookup stays local.
	text, ok, err := r.GetLabel(ctx, versionID, "@SYS1", "en-US", false)
	require.NoError(t, err, "second lookup")
	require.True(t, ok)
	assert.Equal(t, "Customer", text)
	assert.Equal(t, 1, fetcher.callCount(), "remote requests")

	l, err := store.GetLabel(ctx, versionID, "@SYS1", "en-US")
	require.NoError(t, err, "persisted row")
	assert.Equal(t, "Customer", l.Value)
}

func TestEnglishFallbackPinsRequestedLanguage(t *testing.T) {
	// The environment has no French text for this id.
	fetcher := &fakeFetcher{texts: map[string]map[string]string{
		"en-US": {"@SYS1": "Customer"},
	}}
	r, store, versionID := newTestResolver(t, fetcher)
	ctx := context.Background()

	text, ok, err := r.GetLabel(ctx, versionID, "@SYS1", "fr-FR", true)
	require.NoError(t, err, "lookup")
	require.True(t, ok, "fallback missed")
	assert.Equal(t, "Customer", text)

	// The English text is pinned under fr-FR so the fallback happens once.
	l, err := store.GetLabel(ctx, versionID, "@SYS1", "fr-FR")
	require.NoError(t, err, "pinned row")
	assert.Equal(t, "Customer", l.Value)

	before := fetcher.callCount()
	_, _, err = r.GetLabel(ctx, versionID, "@SYS1", "fr-FR", true)
	require.NoError(t, err, "second lookup")
	assert.Equal(t, before, fetcher.callCount(), "remote requests grew on a pinned id")
}

func TestMissingLabelIsNotAnError(t *testing.T) {
	fetcher := &fakeFetcher{texts: map[string]map[string]string{}}
	r, _, versionID := newTestResolver(t, fetcher)

	text, ok, err := r.GetLabel(context.Background(), versionID, "@SYS404", "en-US", true)
	require.NoError(t, err, "lookup")
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestLargeBatchSplitsRequests(t *testing.T) {
	texts := map[string]string{}
	ids := make([]string, 0, 60)
	for i := 1; i <= 60; i++ {
		id := fmt.Sprintf("@SYS%d", i)
		ids = append(ids, id)
		texts[id] = fmt.Sprintf("Label %d", i)
	}
	fetcher := &fakeFetcher{texts: map[string]map[string]string{"en-US": texts}}
	r, _, versionID := newTestResolver(t, fetcher)

	out, err := r.GetLabelsBatch(context.Background(), versionID, ids, "en-US", false)
	require.NoError(t, err, "batch")
	assert.Len(t, out, 60, "resolved")
	require.Equal(t, 2, fetcher.callCount(), "remote requests")
	for i, call := range fetcher.calls {
		assert.LessOrEqual(t, len(call), MaxBatchSize, "request %d over the id cap", i)
	}
}

func TestResolveLabelsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{texts: map[string]map[string]string{
		"en-US": {
			"@SYS100": "Customer",
			"@SYS101": "Account number",
			"@SYS102": "Customer group",
		},
	}}
	r, _, versionID := newTestResolver(t, fetcher)
	ctx := context.Background()

	entity := &types.PublicEntity{
		Name:    "Customer",
		LabelID: "@SYS100",
		Properties: []types.EntityProperty{
			{Name: "CustomerAccount", LabelID: "@SYS101"},
			{Name: "CustomerGroupId", LabelID: "@SYS102"},
			{Name: "PartyNumber"}, // no label
		},
	}

	require.NoError(t, r.ResolveLabels(ctx, versionID, "en-US", entity), "resolve")
	assert.Equal(t, "Customer", entity.LabelText)
	assert.Equal(t, "Account number", entity.Properties[0].LabelText)
	assert.Equal(t, "Customer group", entity.Properties[1].LabelText)
	assert.Empty(t, entity.Properties[2].LabelText, "unlabeled property got text")

	// A second pass changes nothing and stays off the wire.
	calls := fetcher.callCount()
	require.NoError(t, r.ResolveLabels(ctx, versionID, "en-US", entity), "second resolve")
	assert.Equal(t, "Customer", entity.LabelText)
	assert.Equal(t, "Account number", entity.Properties[0].LabelText)
	assert.Equal(t, calls, fetcher.callCount(), "remote requests grew")
}

func TestODataFetcherDecodesActionResponse(t *testing.T) {
	client := odatatest.New("https://labels.example")
	client.Responses[labelAction] = []byte(`{
		"value": [
			{"LabelId": "@SYS1", "Text": "Customer"},
			{"LabelId": "@SYS2", "Text": "Vendor"},
			{"LabelId": "@SYS3", "Text": ""}
		]
	}`)

	f := NewODataFetcher(client)
	out, err := f.FetchLabels(context.Background(), []string{"@SYS1", "@SYS2", "@SYS3"}, "en-US")
	require.NoError(t, err, "fetch")
	assert.Equal(t, map[string]string{"@SYS1": "Customer", "@SYS2": "Vendor"}, out)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, labelAction, calls[0].Action)
	assert.Equal(t, labelEntitySet, calls[0].EntitySet)
}
