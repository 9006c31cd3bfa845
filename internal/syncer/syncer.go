// Package syncer owns the sync session lifecycle: strategy selection,
// bounded-concurrency metadata ingestion, progress reporting, cooperative
// cancellation, and the final activation of the synced version.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/labels"
	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/version"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Defaults for the tunable knobs.
const (
	DefaultConcurrency = 8
	DefaultBatchSize   = 500
)

// Options tunes a Syncer. Zero values fall back to the defaults.
type Options struct {
	// Concurrency bounds in-flight schema requests.
	Concurrency int
	// BatchSize bounds rows per write transaction.
	BatchSize int
	// LabelBatchSize bounds ids per label request.
	LabelBatchSize int
	// Progress receives throttled progress snapshots.
	Progress func(types.SyncProgress)
	// Clock is swapped in tests.
	Clock clock.Clock
}

// Syncer runs sync sessions. One Syncer serves many environments; at most
// one session runs per environment at a time, enforced by the store.
type Syncer struct {
	store    storage.MetadataStore
	detector *version.Detector
	manager  *version.Manager
	opts     Options

	mu      sync.Mutex
	running map[string]*handle
}

// handle is the in-memory side of a running session.
type handle struct {
	cancel atomic.Bool
	done   chan struct{}
}

// New builds a Syncer.
func New(store storage.MetadataStore, detector *version.Detector, manager *version.Manager, opts Options) *Syncer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.LabelBatchSize <= 0 || opts.LabelBatchSize > labels.MaxBatchSize {
		opts.LabelBatchSize = labels.MaxBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Syncer{
		store:    store,
		detector: detector,
		manager:  manager,
		opts:     opts,
		running:  make(map[string]*handle),
	}
}

// Start opens a session and runs the pipeline in the background. An empty
// strategy means automatic selection after version detection. The returned
// session is the pending record; poll the store or Wait for completion.
func (s *Syncer) Start(ctx context.Context, client odata.Client, fetcher labels.Fetcher, envID int64, strategy types.SyncStrategy) (*types.SyncSession, error) {
	if strategy != "" && !strategy.IsValid() {
		return nil, fmt.Errorf("unknown sync strategy %q", strategy)
	}
	auto := strategy == ""
	if auto {
		// Provisional until detection picks the real one.
		strategy = types.StrategyFullWithoutLabels
	}

	session := &types.SyncSession{
		ID:            uuid.NewString(),
		EnvironmentID: envID,
		Strategy:      strategy,
		State:         types.SyncStatePending,
		StartedAt:     s.opts.Clock.Now().UTC(),
	}
	if err := s.store.CreateSyncSession(ctx, session); err != nil {
		return nil, err
	}

	h := &handle{done: make(chan struct{})}
	s.mu.Lock()
	s.running[session.ID] = h
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), client, fetcher, session, h, auto)
	return session, nil
}

// Cancel requests cancellation of a running session. Terminal sessions
// return a not_cancellable error. The worker observes the request at the
// next batch boundary; committed batches stay committed.
func (s *Syncer) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSyncSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.State.CanCancel() {
		return types.NewError(types.ErrNotCancellable,
			"session %s is %s and cannot be cancelled", sessionID, session.State)
	}

	// Raise the flag before persisting so a concurrent worker update can
	// never write running over cancelling.
	s.mu.Lock()
	h := s.running[sessionID]
	s.mu.Unlock()
	if h != nil {
		h.cancel.Store(true)
	}

	session.State = types.SyncStateCancelling
	if err := s.store.UpdateSyncSession(ctx, session); err != nil {
		return err
	}

	if h == nil {
		// No worker in this process; mark it cancelled directly so the
		// session does not hang in cancelling forever.
		now := s.opts.Clock.Now().UTC()
		session.State = types.SyncStateCancelled
		session.FinishedAt = &now
		return s.store.UpdateSyncSession(ctx, session)
	}
	return nil
}

// Wait blocks until the session's worker finishes or ctx is done. Sessions
// unknown to this process return immediately.
func (s *Syncer) Wait(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	h := s.running[sessionID]
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

// errCancelled unwinds the pipeline after a cancellation was observed and
// recorded. It never escapes run.
var errCancelled = types.NewError(types.ErrCancelled, "sync cancelled")

// pipeline carries the mutable state of one running session.
type pipeline struct {
	s       *Syncer
	client  odata.Client
	fetcher labels.Fetcher
	session *types.SyncSession
	h       *handle
	rep     *reporter

	versionID int64
	prevID    int64 // source version for the incremental copy

	// kinds written (or vacuously satisfied) so far
	wroteEntities bool
	wroteEnums    bool
	wroteActions  bool
	wroteLabels   bool

	mu       sync.Mutex
	publics  []*types.PublicEntity
	labelIDs map[string]struct{}
}

func (s *Syncer) run(ctx context.Context, client odata.Client, fetcher labels.Fetcher, session *types.SyncSession, h *handle, auto bool) {
	defer func() {
		s.mu.Lock()
		delete(s.running, session.ID)
		s.mu.Unlock()
		close(h.done)
	}()

	p := &pipeline{
		s:        s,
		client:   client,
		fetcher:  fetcher,
		session:  session,
		h:        h,
		rep:      newReporter(s.opts.Clock, s.opts.Progress),
		labelIDs: make(map[string]struct{}),
	}

	err := p.execute(ctx, auto)
	switch {
	case err == nil:
		p.finish(ctx, types.SyncStateCompleted)
	case types.IsKind(err, types.ErrCancelled):
		p.finish(ctx, types.SyncStateCancelled)
	default:
		p.fail(ctx, err)
	}
}

func (p *pipeline) execute(ctx context.Context, auto bool) error {
	session := p.session
	session.State = types.SyncStateRunning
	p.setPhase(ctx, types.PhaseDetecting)

	detected, err := p.s.detector.DetectVersion(ctx, p.client, true)
	if err != nil {
		return err
	}
	gv, _, err := p.s.manager.GetOrCreateGlobalVersion(ctx, session.EnvironmentID, detected)
	if err != nil {
		return err
	}
	p.versionID = gv.ID
	session.GlobalVersionID = gv.ID
	p.update(ctx)

	if auto {
		strategy, prevID := selectStrategy(ctx, p.s.store, session.EnvironmentID, gv, detected)
		session.Strategy = strategy
		p.prevID = prevID
		p.update(ctx)
	} else if session.Strategy == types.StrategyIncremental {
		// An explicit incremental still needs a source version.
		if link, lerr := p.s.store.ActiveVersionLink(ctx, session.EnvironmentID); lerr == nil &&
			link.SyncStatus == types.SyncStatusCompleted && link.GlobalVersionID != gv.ID {
			p.prevID = link.GlobalVersionID
		} else {
			debug.Logf("sync: no completed prior version for incremental, running full")
			session.Strategy = types.StrategyFull
			p.update(ctx)
		}
	}

	switch session.Strategy {
	case types.StrategySharingMode:
		// A peer already synced this exact version; adopt its rows.
		session.ItemsTotal = 0
		p.update(ctx)
		return nil

	case types.StrategyLabelsOnly:
		if err := p.collectStoredLabelIDs(ctx); err != nil {
			return err
		}
		return p.labelPhase(ctx)

	case types.StrategyIncremental:
		copied, err := p.s.store.CopyVersionMetadata(ctx, p.prevID, p.versionID, storage.CopyKinds{
			Enumerations: true,
			Actions:      true,
		})
		if err != nil {
			return err
		}
		if copied == 0 {
			// The prior version has nothing to reuse; trusting it would
			// complete an active version with no enums or actions.
			debug.Logf("sync: incremental copy from version %d reused no rows, falling back to full", p.prevID)
			session.Strategy = types.StrategyFull
			p.update(ctx)
			break
		}
		p.wroteEnums = true
		p.wroteActions = true
		debug.Logf("sync: incremental copied %d rows from version %d", copied, p.prevID)
		if err := p.entityPhase(ctx); err != nil {
			return err
		}
		return p.indexPhase(ctx)
	}

	// full, full_without_labels, entities_only
	if err := p.entityPhase(ctx); err != nil {
		return err
	}
	if session.Strategy != types.StrategyEntitiesOnly {
		if err := p.actionPhase(ctx); err != nil {
			return err
		}
		if err := p.enumPhase(ctx); err != nil {
			return err
		}
	}
	if session.Strategy.IncludesLabels() {
		if err := p.labelPhase(ctx); err != nil {
			return err
		}
	}
	return p.indexPhase(ctx)
}

// entityPhase lists the entity feed, writes summary rows, then fans out
// per-entity schema fetches under the concurrency bound.
func (p *pipeline) entityPhase(ctx context.Context) error {
	p.setPhase(ctx, types.PhaseEntities)
	if err := p.checkCancel(); err != nil {
		return err
	}

	entities, skipped, err := FetchDataEntities(ctx, p.client)
	if err != nil {
		return err
	}
	p.noteSkipped(skipped)
	p.session.ItemsTotal = len(entities)
	p.update(ctx)

	batch := p.s.opts.BatchSize
	for start := 0; start < len(entities); start += batch {
		if err := p.checkCancel(); err != nil {
			return err
		}
		end := min(start+batch, len(entities))
		if err := p.s.store.UpsertDataEntities(ctx, p.versionID, entities[start:end]); err != nil {
			return err
		}
		p.wroteEntities = true
		p.session.ItemsDone += end - start
		p.update(ctx)
	}
	if len(entities) == 0 {
		p.wroteEntities = true // nothing to write is not a failure
	}
	if p.session.Strategy.IncludesLabels() {
		p.collectLabels(asAny(entities)...)
	}

	return p.schemaPhase(ctx, entities)
}

func (p *pipeline) schemaPhase(ctx context.Context, entities []*types.DataEntity) error {
	p.setPhase(ctx, types.PhaseSchemas)

	names := make([]string, 0, len(entities))
	seen := make(map[string]struct{})
	for _, e := range entities {
		if !e.DataServiceEnabled || e.PublicEntityName == "" {
			continue
		}
		if _, ok := seen[e.PublicEntityName]; ok {
			continue
		}
		seen[e.PublicEntityName] = struct{}{}
		names = append(names, e.PublicEntityName)
	}

	sem := semaphore.NewWeighted(int64(p.s.opts.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if err := p.checkCancel(); err != nil {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		name := name
		g.Go(func() error {
			defer sem.Release(1)
			if p.h.cancel.Load() {
				return nil
			}
			entity, err := FetchPublicEntity(gctx, p.client, name)
			if err != nil {
				if types.IsKind(err, types.ErrAuth) || types.IsKind(err, types.ErrCancelled) {
					return err
				}
				if types.IsKind(err, types.ErrNotFound) {
					debug.Logf("sync: schema %s not exposed, skipping", name)
					return nil
				}
				p.noteError(err)
				return nil
			}
			p.mu.Lock()
			p.publics = append(p.publics, entity)
			p.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := p.checkCancel(); err != nil {
		return err
	}

	batch := p.s.opts.BatchSize
	for start := 0; start < len(p.publics); start += batch {
		if err := p.checkCancel(); err != nil {
			return err
		}
		end := min(start+batch, len(p.publics))
		if err := p.s.store.UpsertPublicEntities(ctx, p.versionID, p.publics[start:end]); err != nil {
			return err
		}
		p.update(ctx)
	}
	if p.session.Strategy.IncludesLabels() {
		p.collectLabels(asAny(p.publics)...)
	}
	return nil
}

// actionPhase writes the actions aggregated from the fetched schemas.
func (p *pipeline) actionPhase(ctx context.Context) error {
	p.setPhase(ctx, types.PhaseActions)

	var actions []*types.EntityAction
	p.mu.Lock()
	for _, e := range p.publics {
		for i := range e.Actions {
			actions = append(actions, &e.Actions[i])
		}
	}
	p.mu.Unlock()

	batch := p.s.opts.BatchSize
	for start := 0; start < len(actions); start += batch {
		if err := p.checkCancel(); err != nil {
			return err
		}
		end := min(start+batch, len(actions))
		if err := p.s.store.UpsertActions(ctx, p.versionID, actions[start:end]); err != nil {
			return err
		}
		p.wroteActions = true
		p.update(ctx)
	}
	if len(actions) == 0 {
		p.wroteActions = true
	}
	return nil
}

func (p *pipeline) enumPhase(ctx context.Context) error {
	p.setPhase(ctx, types.PhaseEnumerations)
	if err := p.checkCancel(); err != nil {
		return err
	}

	enums, skipped, err := FetchEnumerations(ctx, p.client)
	if err != nil {
		return err
	}
	p.noteSkipped(skipped)

	batch := p.s.opts.BatchSize
	for start := 0; start < len(enums); start += batch {
		if err := p.checkCancel(); err != nil {
			return err
		}
		end := min(start+batch, len(enums))
		if err := p.s.store.UpsertEnumerations(ctx, p.versionID, enums[start:end]); err != nil {
			return err
		}
		p.wroteEnums = true
		p.update(ctx)
	}
	if len(enums) == 0 {
		p.wroteEnums = true
	}
	if p.session.Strategy.IncludesLabels() {
		p.collectLabels(asAny(enums)...)
	}
	return nil
}

func (p *pipeline) labelPhase(ctx context.Context) error {
	p.setPhase(ctx, types.PhaseLabels)

	ids := make([]string, 0, len(p.labelIDs))
	for id := range p.labelIDs {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		p.wroteLabels = true
		return nil
	}
	if p.session.Strategy == types.StrategyLabelsOnly {
		p.session.ItemsTotal = len(ids)
		p.update(ctx)
	}

	batch := p.s.opts.LabelBatchSize
	for start := 0; start < len(ids); start += batch {
		if err := p.checkCancel(); err != nil {
			return err
		}
		end := min(start+batch, len(ids))
		texts, err := p.fetcher.FetchLabels(ctx, ids[start:end], types.DefaultLanguage)
		if err != nil {
			if types.IsKind(err, types.ErrAuth) {
				return err
			}
			p.noteError(err)
			continue
		}
		rows := make([]types.Label, 0, len(texts))
		for id, text := range texts {
			rows = append(rows, types.Label{ID: id, Language: types.DefaultLanguage, Value: text})
		}
		if len(rows) > 0 {
			if err := p.s.store.UpsertLabels(ctx, p.versionID, rows); err != nil {
				return err
			}
		}
		p.wroteLabels = true
		if p.session.Strategy == types.StrategyLabelsOnly {
			p.session.ItemsDone += end - start
		}
		p.update(ctx)
	}
	return nil
}

// indexPhase rebuilds the FTS rows for the version, strictly after every
// metadata row write.
func (p *pipeline) indexPhase(ctx context.Context) error {
	p.setPhase(ctx, types.PhaseIndexing)
	if err := p.checkCancel(); err != nil {
		return err
	}
	if err := p.s.store.RebuildSearchIndex(ctx, p.versionID); err != nil {
		return err
	}
	return p.s.store.ClearPendingRebuild(ctx, p.versionID)
}

// finish records a terminal state. Completion additionally activates the
// version for the environment; cancellation leaves the prior version
// active and the committed batches in place.
func (p *pipeline) finish(ctx context.Context, state types.SyncState) {
	session := p.session
	if state == types.SyncStateCompleted {
		if missing := p.missingKinds(); missing != "" {
			p.fail(ctx, types.NewError(types.ErrTransport,
				"sync wrote no %s despite strategy %s", missing, session.Strategy))
			return
		}
		p.setPhase(ctx, types.PhaseFinalizing)
		now := p.s.opts.Clock.Now().UTC()
		duration := now.Sub(session.StartedAt).Milliseconds()
		if err := p.s.store.LinkEnvironmentToVersion(ctx, session.EnvironmentID, p.versionID); err != nil {
			p.fail(ctx, err)
			return
		}
		if err := p.s.store.SetSyncStatus(ctx, session.EnvironmentID, p.versionID, types.SyncStatusCompleted, duration); err != nil {
			p.fail(ctx, err)
			return
		}
		if err := p.s.store.TouchEnvironmentSync(ctx, session.EnvironmentID, now); err != nil {
			debug.Logf("sync: touch environment: %v", err)
		}
	}

	now := p.s.opts.Clock.Now().UTC()
	session.State = state
	session.FinishedAt = &now
	p.update(ctx)
	p.rep.force(session)
}

func (p *pipeline) fail(ctx context.Context, err error) {
	session := p.session
	debug.Logf("sync: session %s failed: %v", session.ID, err)
	now := p.s.opts.Clock.Now().UTC()
	session.State = types.SyncStateFailed
	session.ErrorsCount++
	session.ErrorMessages = append(session.ErrorMessages, err.Error())
	session.FinishedAt = &now
	p.update(ctx)
	p.rep.force(session)
}

// missingKinds names the required kinds the run never wrote, or empty.
func (p *pipeline) missingKinds() string {
	req := requirementsFor(p.session.Strategy)
	switch {
	case req.Entities && !p.wroteEntities:
		return "entities"
	case req.Enumerations && !p.wroteEnums:
		return "enumerations"
	case req.Actions && !p.wroteActions:
		return "actions"
	case req.Labels && !p.wroteLabels:
		return "labels"
	}
	return ""
}

// collectStoredLabelIDs walks the already-synced rows of the version to
// find label ids for a labels_only refresh. No HTTP involved.
func (p *pipeline) collectStoredLabelIDs(ctx context.Context) error {
	const pageSize = 200
	offset := 0
	for {
		page, err := p.s.store.ListDataEntities(ctx, p.versionID, storage.EntityFilter{}, pageSize, offset)
		if err != nil {
			return err
		}
		for _, e := range page.Items {
			p.collectLabels(e)
			if e.PublicEntityName == "" {
				continue
			}
			pub, err := p.s.store.GetPublicEntity(ctx, p.versionID, e.PublicEntityName)
			if err != nil {
				continue
			}
			p.collectLabels(pub)
		}
		if page.NextOffset == 0 {
			return nil
		}
		offset = page.NextOffset
	}
}

func (p *pipeline) collectLabels(objs ...any) {
	ids := labels.CollectLabelIDs(objs...)
	p.mu.Lock()
	for _, id := range ids {
		p.labelIDs[id] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *pipeline) setPhase(ctx context.Context, phase types.SyncPhase) {
	p.session.Phase = phase
	p.update(ctx)
}

// update persists the session and feeds the throttled reporter. Persist
// failures are logged; progress is advisory, the data writes are not.
// A raised cancel flag promotes running to cancelling so the worker never
// writes running over a recorded cancellation.
func (p *pipeline) update(ctx context.Context) {
	if p.h.cancel.Load() && p.session.State == types.SyncStateRunning {
		p.session.State = types.SyncStateCancelling
	}
	if err := p.s.store.UpdateSyncSession(ctx, p.session); err != nil {
		debug.Logf("sync: persist session %s: %v", p.session.ID, err)
	}
	p.rep.maybeEmit(p.session)
}

func (p *pipeline) checkCancel() error {
	if p.h.cancel.Load() {
		return errCancelled
	}
	return nil
}

func (p *pipeline) noteError(err error) {
	p.mu.Lock()
	p.session.ErrorsCount++
	if len(p.session.ErrorMessages) < 20 {
		p.session.ErrorMessages = append(p.session.ErrorMessages, err.Error())
	}
	p.mu.Unlock()
}

func (p *pipeline) noteSkipped(n int) {
	if n > 0 {
		p.mu.Lock()
		p.session.ErrorsCount += n
		p.mu.Unlock()
	}
}

func asAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
