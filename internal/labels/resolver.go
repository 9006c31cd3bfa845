// Package labels resolves label ids to localized text. Lookups read
// through the cache tiers to the labels_cache table; misses go to the
// environment in coalesced batches.
package labels

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/cache"
	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// BatchWindow is how long the resolver holds a remote miss open so
// concurrent misses can join the same request.
const BatchWindow = 50 * time.Millisecond

// MaxBatchSize caps the ids carried by one remote request.
const MaxBatchSize = 50

// Fetcher fetches label texts from the environment. Implemented over the
// OData client; tests inject fakes.
type Fetcher interface {
	FetchLabels(ctx context.Context, ids []string, language string) (map[string]string, error)
}

// Resolver is the label lookup pipeline: L1/L2 tiers, the labels_cache
// table, then a coalescing remote fetch. Safe for concurrent use.
type Resolver struct {
	store   storage.MetadataStore
	fetcher Fetcher
	tiers   *cache.Tiered // nil disables the memory/disk tiers
	window  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingBatch // keyed by version/language
}

// NewResolver builds a resolver. tiers may be nil (use_label_cache=false);
// the database and remote path still apply.
func NewResolver(store storage.MetadataStore, fetcher Fetcher, tiers *cache.Tiered) *Resolver {
	return &Resolver{
		store:   store,
		fetcher: fetcher,
		tiers:   tiers,
		window:  BatchWindow,
		pending: make(map[string]*pendingBatch),
	}
}

// GetLabel resolves one id. Missing labels return ok=false with no error;
// fallbackToEnglish retries en-US on a miss and pins the English text
// under the requested language so the fallback happens once.
func (r *Resolver) GetLabel(ctx context.Context, versionID int64, id, language string, fallbackToEnglish bool) (string, bool, error) {
	out, err := r.GetLabelsBatch(ctx, versionID, []string{id}, language, fallbackToEnglish)
	if err != nil {
		return "", false, err
	}
	text, ok := out[id]
	return text, ok, nil
}

// GetLabelsBatch resolves many ids in one pass. The result map holds only
// the ids that resolved.
func (r *Resolver) GetLabelsBatch(ctx context.Context, versionID int64, ids []string, language string, fallbackToEnglish bool) (map[string]string, error) {
	if language == "" {
		language = types.DefaultLanguage
	}
	out, err := r.lookup(ctx, versionID, ids, language)
	if err != nil {
		return nil, err
	}

	if fallbackToEnglish && language != types.DefaultLanguage {
		var missing []string
		for _, id := range ids {
			if _, ok := out[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			english, err := r.lookup(ctx, versionID, missing, types.DefaultLanguage)
			if err != nil {
				return nil, err
			}
			if len(english) > 0 {
				// Pin the English text under the requested language so the
				// next lookup skips the fallback.
				pinned := make([]types.Label, 0, len(english))
				for id, text := range english {
					out[id] = text
					pinned = append(pinned, types.Label{ID: id, Language: language, Value: text})
				}
				if err := r.store.UpsertLabels(ctx, versionID, pinned); err != nil {
					debug.Logf("labels: pin fallback rows: %v", err)
				}
				r.cachePut(versionID, language, english)
			}
		}
	}
	return out, nil
}

// lookup runs the tier chain for one language: cache, database, remote.
func (r *Resolver) lookup(ctx context.Context, versionID int64, ids []string, language string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	var missing []string
	for _, id := range ids {
		if !types.IsLabelID(id) {
			continue
		}
		if text, ok := r.cacheGet(versionID, language, id); ok {
			out[id] = text
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fromDB, err := r.store.GetLabelsBatch(ctx, versionID, missing, language)
	if err != nil {
		return nil, err
	}
	r.cachePut(versionID, language, fromDB)
	still := missing[:0]
	for _, id := range missing {
		if text, ok := fromDB[id]; ok {
			out[id] = text
			continue
		}
		still = append(still, id)
	}
	if len(still) == 0 || r.fetcher == nil {
		return out, nil
	}

	fetched, err := r.fetchCoalesced(ctx, versionID, still, language)
	if err != nil {
		return nil, err
	}
	for id, text := range fetched {
		out[id] = text
	}
	return out, nil
}

func (r *Resolver) cacheGet(versionID int64, language, id string) (string, bool) {
	if r.tiers == nil {
		return "", false
	}
	payload, ok := r.tiers.Lookup(labelKey(versionID, language, id))
	if !ok {
		return "", false
	}
	return string(payload), true
}

func (r *Resolver) cachePut(versionID int64, language string, texts map[string]string) {
	if r.tiers == nil {
		return
	}
	for id, text := range texts {
		r.tiers.Put(labelKey(versionID, language, id), []byte(text))
	}
}

func labelKey(versionID int64, language, id string) cache.Key {
	return cache.Key{GlobalVersionID: versionID, Kind: cache.KindLabel, ID: language + "/" + id}
}

// ResolveLabels walks any mix of LabelHolder/LabelContainer values,
// collects every unresolved label id, resolves them in one batch, and
// assigns the texts in place. Running it twice is a no-op the second time.
func (r *Resolver) ResolveLabels(ctx context.Context, versionID int64, language string, objs ...any) error {
	holders := collectHolders(objs)
	idSet := make(map[string]struct{})
	for _, h := range holders {
		if id := h.GetLabelID(); types.IsLabelID(id) {
			idSet[id] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	texts, err := r.GetLabelsBatch(ctx, versionID, ids, language, true)
	if err != nil {
		return err
	}
	for _, h := range holders {
		if text, ok := texts[h.GetLabelID()]; ok {
			h.SetLabelText(text)
		}
	}
	return nil
}

// CollectLabelIDs returns the distinct label ids carried by the given
// objects and, recursively, their children, sorted. The sync pipeline
// uses it to gather ids for prefetch during ingestion.
func CollectLabelIDs(objs ...any) []string {
	idSet := make(map[string]struct{})
	for _, h := range collectHolders(objs) {
		if id := h.GetLabelID(); types.IsLabelID(id) {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// collectHolders flattens the object graph: containers contribute
// themselves and, recursively, their children.
func collectHolders(objs []any) []types.LabelHolder {
	var out []types.LabelHolder
	var walk func(obj any)
	walk = func(obj any) {
		if h, ok := obj.(types.LabelHolder); ok {
			out = append(out, h)
		}
		if c, ok := obj.(types.LabelContainer); ok {
			for _, child := range c.LabelChildren() {
				walk(child)
			}
		}
	}
	for _, obj := range objs {
		walk(obj)
	}
	return out
}
