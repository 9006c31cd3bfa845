package syncer

import (
	"sync"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/juju/clock"
)

// emitInterval is the floor on progress callback frequency while a phase
// is grinding through batches.
const emitInterval = time.Second

// reporter throttles progress callbacks: every phase change fires, and
// within a phase at most one callback per interval.
type reporter struct {
	clock clock.Clock
	fn    func(types.SyncProgress)

	mu        sync.Mutex
	lastPhase types.SyncPhase
	lastEmit  time.Time
}

func newReporter(clk clock.Clock, fn func(types.SyncProgress)) *reporter {
	return &reporter{clock: clk, fn: fn}
}

// maybeEmit fires the callback if the phase changed or the interval
// elapsed since the last emission.
func (r *reporter) maybeEmit(session *types.SyncSession) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	now := r.clock.Now()
	due := session.Phase != r.lastPhase || now.Sub(r.lastEmit) >= emitInterval
	if due {
		r.lastPhase = session.Phase
		r.lastEmit = now
	}
	r.mu.Unlock()
	if due {
		r.fn(snapshot(session))
	}
}

// force fires the callback unconditionally, used for terminal states.
func (r *reporter) force(session *types.SyncSession) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	r.lastPhase = session.Phase
	r.lastEmit = r.clock.Now()
	r.mu.Unlock()
	r.fn(snapshot(session))
}

func snapshot(session *types.SyncSession) types.SyncProgress {
	return types.SyncProgress{
		SessionID:  session.ID,
		State:      session.State,
		Strategy:   session.Strategy,
		Phase:      session.Phase,
		ItemsTotal: session.ItemsTotal,
		ItemsDone:  session.ItemsDone,
		Percent:    session.Progress() * 100,
		Error:      session.LastError(),
		StartedAt:  session.StartedAt,
		FinishedAt: session.FinishedAt,
	}
}
