package labels

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// pendingBatch accumulates label ids bound for one remote request. The
// first caller to open a batch arms the flush timer; everyone who joined
// waits on done.
type pendingBatch struct {
	versionID int64
	language  string
	ids       map[string]struct{}
	timer     *time.Timer

	done   chan struct{}
	result map[string]string
	err    error
}

func batchKey(versionID int64, language string) string {
	return fmt.Sprintf("%d/%s", versionID, language)
}

// fetchCoalesced resolves ids remotely, merging with any concurrent
// callers for the same version and language. The batch flushes when the
// window elapses or it fills, whichever comes first.
func (r *Resolver) fetchCoalesced(ctx context.Context, versionID int64, ids []string, language string) (map[string]string, error) {
	key := batchKey(versionID, language)

	r.mu.Lock()
	b, ok := r.pending[key]
	if !ok {
		b = &pendingBatch{
			versionID: versionID,
			language:  language,
			ids:       make(map[string]struct{}, len(ids)),
			done:      make(chan struct{}),
		}
		r.pending[key] = b
		b.timer = time.AfterFunc(r.window, func() { r.flush(key, b) })
	}
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
	full := len(b.ids) >= MaxBatchSize
	r.mu.Unlock()

	if full {
		r.flush(key, b)
	}

	select {
	case <-ctx.Done():
		return nil, types.WrapError(types.ErrCancelled, ctx.Err(), "label fetch cancelled")
	case <-b.done:
	}
	if b.err != nil {
		return nil, b.err
	}

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if text, ok := b.result[id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

// flush fires the remote request for a batch. Exactly one flush wins;
// later calls (timer vs. batch-full race) find the batch already gone.
func (r *Resolver) flush(key string, b *pendingBatch) {
	r.mu.Lock()
	if r.pending[key] != b {
		r.mu.Unlock()
		return
	}
	delete(r.pending, key)
	b.timer.Stop()
	ids := make([]string, 0, len(b.ids))
	for id := range b.ids {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	defer close(b.done)

	result := make(map[string]string, len(ids))
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := r.fetcher.FetchLabels(context.Background(), ids[start:end], b.language)
		if err != nil {
			b.err = err
			return
		}
		for id, text := range chunk {
			result[id] = text
		}
	}
	b.result = result

	if len(result) > 0 {
		rows := make([]types.Label, 0, len(result))
		for id, text := range result {
			rows = append(rows, types.Label{ID: id, Language: b.language, Value: text})
		}
		if err := r.store.UpsertLabels(context.Background(), b.versionID, rows); err != nil {
			debug.Logf("labels: persist fetched rows: %v", err)
		}
		r.cachePut(b.versionID, b.language, result)
	}
}
