package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

const syncScopeName = "github.com/dynamicsmcp/fomcp/syncer"

// ObserveSync wraps a sync progress callback with fomcp.sync.* metrics:
// an item counter fed by per-session deltas and a duration histogram
// recorded when a session reaches a terminal state. The downstream
// callback (possibly nil) is always invoked. When telemetry is disabled
// the downstream callback is returned unchanged.
func ObserveSync(next func(types.SyncProgress)) func(types.SyncProgress) {
	if !Enabled() {
		return next
	}
	m := Meter(syncScopeName)
	items, _ := m.Int64Counter("fomcp.sync.items",
		metric.WithDescription("Metadata items written by sync sessions"),
	)
	duration, _ := m.Float64Histogram("fomcp.sync.duration",
		metric.WithDescription("Sync session duration in seconds"),
		metric.WithUnit("s"),
	)

	var mu sync.Mutex
	lastDone := make(map[string]int)

	return func(p types.SyncProgress) {
		ctx := context.Background()
		attrs := metric.WithAttributes(
			attribute.String("strategy", string(p.Strategy)),
			attribute.String("state", string(p.State)),
		)

		mu.Lock()
		if delta := p.ItemsDone - lastDone[p.SessionID]; delta > 0 {
			items.Add(ctx, int64(delta), attrs)
			lastDone[p.SessionID] = p.ItemsDone
		}
		if p.State.IsTerminal() {
			delete(lastDone, p.SessionID)
			if p.FinishedAt != nil {
				duration.Record(ctx, p.FinishedAt.Sub(p.StartedAt).Seconds(), attrs)
			}
		}
		mu.Unlock()

		if next != nil {
			next(p)
		}
	}
}
