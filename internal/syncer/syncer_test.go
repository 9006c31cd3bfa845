package syncer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/odata/odatatest"
	"github.com/dynamicsmcp/fomcp/internal/storage/sqlite"
	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/version"
)

const moduleLine = "Name: ApplicationFoundation | Version: 7.0.7521.60 | Module: ApplicationFoundation | Publisher: Microsoft Corporation | DisplayName: Application Foundation"

// newMetadataFake scripts a fake environment with one data entity, its
// public schema, and one enumeration.
func newMetadataFake(base string) *odatatest.FakeClient {
	f := odatatest.New(base)
	f.Responses["GetInstalledModules"] = []byte(`{"value":["` + moduleLine + `"]}`)
	f.Responses["GetApplicationVersion"] = []byte(`{"value":"10.0.1985.137"}`)
	f.Responses["GetPlatformBuildVersion"] = []byte(`{"value":"7.0.7521.60"}`)
	f.Responses["Metadata/DataEntities"] = []byte(`{"value":[
		{"Name":"CustCustomerV3Entity","PublicEntityName":"Customer","PublicCollectionName":"Customers",
		 "LabelId":"@SYS100","DataServiceEnabled":true,"DataManagementEnabled":true,
		 "EntityCategory":"Master","IsReadOnly":false}
	]}`)
	f.Responses["Metadata/PublicEntities('Customer')"] = []byte(`{
		"Name":"Customer","EntitySetName":"Customers","LabelId":"@SYS100","IsReadOnly":false,
		"ConfigurationEnabled":true,
		"Properties":[
			{"Name":"CustomerAccount","TypeName":"Edm.String","DataType":"String","LabelId":"@SYS101","IsKey":true,"IsMandatory":true},
			{"Name":"CreditLimit","TypeName":"Edm.Decimal","DataType":"Real"}
		],
		"NavigationProperties":[
			{"Name":"CustomerGroup","RelatedEntity":"CustomerGroup","Cardinality":"Single",
			 "Constraints":[{"@odata.type":"#Microsoft.Dynamics.Metadata.ReferentialConstraintMetadata","Property":"CustomerGroupId","ReferencedProperty":"GroupId"}]}
		],
		"Actions":[
			{"Name":"calculateBalance","BindingKind":"BoundToEntity",
			 "Parameters":[{"Name":"asOfDate","Type":{"TypeName":"Edm.Date","IsCollection":false}}],
			 "ReturnType":{"TypeName":"Edm.Decimal","IsCollection":false}}
		]
	}`)
	f.Responses["Metadata/PublicEnumerations"] = []byte(`{"value":[
		{"Name":"CustVendorBlocked","LabelId":"@SYS200","Members":[
			{"Name":"No","Value":0,"LabelId":"@SYS201"},
			{"Name":"Invoice","Value":1,"LabelId":"@SYS202"}
		]}
	]}`)
	return f
}

type fakeLabelFetcher struct {
	mu    sync.Mutex
	calls int
	texts map[string]string
}

func (f *fakeLabelFetcher) FetchLabels(ctx context.Context, ids []string, language string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]string)
	for _, id := range ids {
		if text, ok := f.texts[id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

func newTestSyncer(t *testing.T) (*Syncer, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/metadata.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	detector := version.NewDetector(nil)
	manager := version.NewManager(store, nil)
	return New(store, detector, manager, Options{}), store
}

// waitTerminal polls until the session reaches a terminal state.
func waitTerminal(t *testing.T, s *Syncer, store *sqlite.Store, sessionID string) *types.SyncSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Wait(ctx, sessionID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	session, err := store.GetSyncSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if !session.State.IsTerminal() {
		t.Fatalf("session state %s after wait", session.State)
	}
	return session
}

func envID(t *testing.T, store *sqlite.Store, baseURL string) int64 {
	t.Helper()
	env, err := store.GetOrCreateEnvironment(context.Background(), baseURL, "test")
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	return env.ID
}

func TestFullSyncPopulatesVersion(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	client := newMetadataFake("https://a.example")
	fetcher := &fakeLabelFetcher{texts: map[string]string{
		"@SYS100": "Customers", "@SYS101": "Customer account", "@SYS200": "Blocked",
	}}
	env := envID(t, store, client.BaseURL())

	session, err := s.Start(ctx, client, fetcher, env, types.StrategyFull)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitTerminal(t, s, store, session.ID)
	if final.State != types.SyncStateCompleted {
		t.Fatalf("state = %s, errors = %v", final.State, final.ErrorMessages)
	}
	if final.ItemsTotal != 1 || final.ItemsDone != 1 {
		t.Errorf("progress = %d/%d", final.ItemsDone, final.ItemsTotal)
	}

	link, err := store.ActiveVersionLink(ctx, env)
	if err != nil {
		t.Fatalf("active link: %v", err)
	}
	if link.SyncStatus != types.SyncStatusCompleted {
		t.Errorf("sync status = %s", link.SyncStatus)
	}

	pub, err := store.GetPublicEntity(ctx, link.GlobalVersionID, "Customer")
	if err != nil {
		t.Fatalf("public entity: %v", err)
	}
	if len(pub.Properties) != 2 || pub.Properties[0].Name != "CustomerAccount" {
		t.Errorf("properties = %+v", pub.Properties)
	}
	if len(pub.NavigationProperties) != 1 || pub.NavigationProperties[0].Constraints[0].ConstraintType != types.ConstraintReferential {
		t.Errorf("navigations = %+v", pub.NavigationProperties)
	}

	enum, err := store.GetEnumeration(ctx, link.GlobalVersionID, "CustVendorBlocked")
	if err != nil {
		t.Fatalf("enumeration: %v", err)
	}
	if len(enum.Members) != 2 {
		t.Errorf("members = %d", len(enum.Members))
	}

	// The full strategy prefetches the labels collected during ingestion.
	l, err := store.GetLabel(ctx, link.GlobalVersionID, "@SYS100", "en-US")
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if l.Value != "Customers" {
		t.Errorf("label = %q", l.Value)
	}

	// The search index is queryable right after the sync.
	results, err := store.Search(ctx, link.GlobalVersionID, &types.SearchQuery{Text: "customer", UseFullText: true, Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Error("search index empty after sync")
	}
}

func TestSharingModeSkipsMetadataRequests(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()

	clientA := newMetadataFake("https://a.example")
	fetcher := &fakeLabelFetcher{texts: map[string]string{}}
	envA := envID(t, store, clientA.BaseURL())
	sessionA, err := s.Start(ctx, clientA, fetcher, envA, types.StrategyFullWithoutLabels)
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	if got := waitTerminal(t, s, store, sessionA.ID); got.State != types.SyncStateCompleted {
		t.Fatalf("A state = %s, errors = %v", got.State, got.ErrorMessages)
	}

	// B reports the same installed modules, so auto selection shares A's rows.
	clientB := newMetadataFake("https://b.example")
	envB := envID(t, store, clientB.BaseURL())
	sessionB, err := s.Start(ctx, clientB, fetcher, envB, "")
	if err != nil {
		t.Fatalf("start B: %v", err)
	}
	finalB := waitTerminal(t, s, store, sessionB.ID)
	if finalB.State != types.SyncStateCompleted {
		t.Fatalf("B state = %s, errors = %v", finalB.State, finalB.ErrorMessages)
	}
	if finalB.Strategy != types.StrategySharingMode {
		t.Errorf("B strategy = %s", finalB.Strategy)
	}
	if finalB.ItemsTotal != 0 {
		t.Errorf("B items_total = %d, want 0", finalB.ItemsTotal)
	}

	// B made only the detection calls: no metadata row requests at all.
	for _, c := range clientB.Calls() {
		if strings.HasPrefix(c.Path, "Metadata/") {
			t.Errorf("sharing sync fetched %s", c.Path)
		}
	}

	// Both environments resolve to the same version and the same rows.
	linkA, err := store.ActiveVersionLink(ctx, envA)
	if err != nil {
		t.Fatalf("link A: %v", err)
	}
	linkB, err := store.ActiveVersionLink(ctx, envB)
	if err != nil {
		t.Fatalf("link B: %v", err)
	}
	if linkA.GlobalVersionID != linkB.GlobalVersionID {
		t.Fatalf("versions differ: %d vs %d", linkA.GlobalVersionID, linkB.GlobalVersionID)
	}
	if _, err := store.GetPublicEntity(ctx, linkB.GlobalVersionID, "Customer"); err != nil {
		t.Errorf("B cannot read shared entity: %v", err)
	}
}

func TestMidSyncReadsSeeNoIncompleteVersion(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	client := newMetadataFake("https://a.example")
	env := envID(t, store, client.BaseURL())

	// Block the schema fetch so the sync parks mid-pipeline.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client.OnRequest = func(c odatatest.Call) {
		if strings.HasPrefix(c.Path, "Metadata/PublicEntities") {
			once.Do(func() { close(entered) })
			<-release
		}
	}

	session, err := s.Start(ctx, client, &fakeLabelFetcher{}, env, types.StrategyFullWithoutLabels)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	// Entity rows are committed by now, but the environment must not
	// expose the half-synced version.
	if link, err := store.ActiveVersionLink(ctx, env); err == nil {
		t.Fatalf("mid-sync active link visible: %+v", link)
	} else if !types.IsKind(err, types.ErrNotFound) {
		t.Fatalf("active link error: %v", err)
	}

	close(release)
	final := waitTerminal(t, s, store, session.ID)
	if final.State != types.SyncStateCompleted {
		t.Fatalf("state = %s, errors = %v", final.State, final.ErrorMessages)
	}
	link, err := store.ActiveVersionLink(ctx, env)
	if err != nil {
		t.Fatalf("post-sync link: %v", err)
	}
	if !link.IsActive || link.SyncStatus != types.SyncStatusCompleted {
		t.Errorf("post-sync link = %+v", link)
	}
}

func TestCancelStopsAtBatchBoundary(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	client := newMetadataFake("https://a.example")
	env := envID(t, store, client.BaseURL())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client.OnRequest = func(c odatatest.Call) {
		if c.Path == "Metadata/DataEntities" {
			once.Do(func() { close(entered) })
			<-release
		}
	}

	session, err := s.Start(ctx, client, &fakeLabelFetcher{}, env, types.StrategyFullWithoutLabels)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	if err := s.Cancel(ctx, session.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mid, err := store.GetSyncSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("session mid-cancel: %v", err)
	}
	if mid.State != types.SyncStateCancelling {
		t.Errorf("state after cancel request = %s", mid.State)
	}

	close(release)
	final := waitTerminal(t, s, store, session.ID)
	if final.State != types.SyncStateCancelled {
		t.Fatalf("state = %s", final.State)
	}
	if final.FinishedAt == nil {
		t.Error("cancelled session has no finished_at")
	}

	// The worker observed the request before the schema fan-out: no
	// further metadata requests happened.
	for _, c := range client.Calls() {
		if strings.HasPrefix(c.Path, "Metadata/PublicEntities") {
			t.Errorf("request after cancellation: %s", c.Path)
		}
	}

	// The environment never activated the aborted version.
	if _, err := store.ActiveVersionLink(ctx, env); !types.IsKind(err, types.ErrNotFound) {
		t.Errorf("aborted version became active: %v", err)
	}

	// A terminal session refuses another cancel.
	if err := s.Cancel(ctx, session.ID); !types.IsKind(err, types.ErrNotCancellable) {
		t.Errorf("second cancel = %v, want not_cancellable", err)
	}
}

func TestStartRefusesConcurrentSession(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	client := newMetadataFake("https://a.example")
	env := envID(t, store, client.BaseURL())

	release := make(chan struct{})
	client.OnRequest = func(c odatatest.Call) {
		if c.Path == "Metadata/DataEntities" {
			<-release
		}
	}

	session, err := s.Start(ctx, client, &fakeLabelFetcher{}, env, types.StrategyFullWithoutLabels)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		close(release)
		waitTerminal(t, s, store, session.ID)
	}()

	if _, err := s.Start(ctx, client, &fakeLabelFetcher{}, env, types.StrategyFullWithoutLabels); !types.IsKind(err, types.ErrSyncConflict) {
		t.Errorf("concurrent start = %v, want sync_conflict", err)
	}
}

func TestAutoSelectionFirstSyncAvoidsLabels(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	client := newMetadataFake("https://a.example")
	fetcher := &fakeLabelFetcher{texts: map[string]string{}}
	env := envID(t, store, client.BaseURL())

	session, err := s.Start(ctx, client, fetcher, env, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitTerminal(t, s, store, session.ID)
	if final.State != types.SyncStateCompleted {
		t.Fatalf("state = %s, errors = %v", final.State, final.ErrorMessages)
	}
	if final.Strategy != types.StrategyFullWithoutLabels {
		t.Errorf("strategy = %s", final.Strategy)
	}
	if fetcher.calls != 0 {
		t.Errorf("label requests on a label-free strategy: %d", fetcher.calls)
	}
}

func TestIncrementalWithNothingToReuseRunsFull(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	fetcher := &fakeLabelFetcher{texts: map[string]string{"@SYS200": "Blocked"}}

	// The first sync writes entity rows only: no enumerations, no actions.
	clientA := newMetadataFake("https://a.example")
	env := envID(t, store, clientA.BaseURL())
	sessionA, err := s.Start(ctx, clientA, fetcher, env, types.StrategyEntitiesOnly)
	if err != nil {
		t.Fatalf("start entities_only: %v", err)
	}
	if got := waitTerminal(t, s, store, sessionA.ID); got.State != types.SyncStateCompleted {
		t.Fatalf("entities_only state = %s, errors = %v", got.State, got.ErrorMessages)
	}

	// The environment upgrades to a new module set, then the caller asks
	// for an incremental sync. The prior version has nothing to copy, so
	// the run must fall back to full instead of completing empty.
	clientB := newMetadataFake("https://a.example")
	clientB.Responses["GetInstalledModules"] = []byte(`{"value":["` + moduleLine +
		`","Name: GeneralLedger | Version: 10.0.1985.200 | Module: GeneralLedger | Publisher: Microsoft Corporation | DisplayName: General ledger"]}`)
	sessionB, err := s.Start(ctx, clientB, fetcher, env, types.StrategyIncremental)
	if err != nil {
		t.Fatalf("start incremental: %v", err)
	}
	finalB := waitTerminal(t, s, store, sessionB.ID)
	if finalB.State != types.SyncStateCompleted {
		t.Fatalf("state = %s, errors = %v", finalB.State, finalB.ErrorMessages)
	}
	if finalB.Strategy != types.StrategyFull {
		t.Errorf("strategy = %s, want fallback to %s", finalB.Strategy, types.StrategyFull)
	}

	link, err := store.ActiveVersionLink(ctx, env)
	if err != nil {
		t.Fatalf("active link: %v", err)
	}
	enum, err := store.GetEnumeration(ctx, link.GlobalVersionID, "CustVendorBlocked")
	if err != nil {
		t.Fatalf("enumeration on new version: %v", err)
	}
	if len(enum.Members) != 2 {
		t.Errorf("members = %d", len(enum.Members))
	}
}

func TestWorkerUpdateKeepsCancellingState(t *testing.T) {
	s, store := newTestSyncer(t)
	ctx := context.Background()
	env := envID(t, store, "https://a.example")

	session := &types.SyncSession{
		ID:            "0b54c2de-3f51-4b56-9e30-5f7f3c2e9a01",
		EnvironmentID: env,
		Strategy:      types.StrategyFull,
		State:         types.SyncStatePending,
		StartedAt:     time.Now().UTC(),
	}
	if err := store.CreateSyncSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	h := &handle{done: make(chan struct{})}
	p := &pipeline{
		s:        s,
		session:  session,
		h:        h,
		rep:      newReporter(s.opts.Clock, nil),
		labelIDs: make(map[string]struct{}),
	}

	// Cancellation was recorded while the worker held a running snapshot.
	// Its next progress write must not put running back.
	session.State = types.SyncStateRunning
	h.cancel.Store(true)
	p.update(ctx)
	if session.State != types.SyncStateCancelling {
		t.Fatalf("in-memory state = %s, want cancelling", session.State)
	}
	stored, err := store.GetSyncSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if stored.State != types.SyncStateCancelling {
		t.Errorf("stored state = %s, want cancelling", stored.State)
	}

	// Terminal states stay untouched even with the flag raised.
	session.State = types.SyncStateCompleted
	p.update(ctx)
	if session.State != types.SyncStateCompleted {
		t.Errorf("terminal state rewritten to %s", session.State)
	}
}

func TestIncrementalHeuristic(t *testing.T) {
	prev := &types.GlobalVersion{
		ModuleCount: 100,
		SampleModules: []types.Module{
			{ModuleID: "ApplicationFoundation"},
			{ModuleID: "ApplicationPlatform"},
		},
	}
	detected := &types.EnvironmentVersion{}
	for i := 0; i < 98; i++ {
		detected.Modules = append(detected.Modules, types.Module{ModuleID: "Mod" + string(rune('A'+i%26)) + string(rune('0'+i/26))})
	}
	detected.Modules = append(detected.Modules,
		types.Module{ModuleID: "ApplicationFoundation"},
		types.Module{ModuleID: "ApplicationPlatform"})

	// 100 vs 100 modules, samples intact: close enough.
	if !closeEnoughForIncremental(prev, detected) {
		t.Error("identical-scale fingerprint rejected")
	}

	// A sample module vanished: full resync.
	var gone types.EnvironmentVersion
	for _, m := range detected.Modules {
		if m.ModuleID != "ApplicationPlatform" {
			gone.Modules = append(gone.Modules, m)
		}
	}
	if closeEnoughForIncremental(prev, &gone) {
		t.Error("missing sample module accepted")
	}

	// Count drifted past the threshold: full resync.
	var drifted types.EnvironmentVersion
	drifted.Modules = append(drifted.Modules, detected.Modules...)
	for i := 0; i < 10; i++ {
		drifted.Modules = append(drifted.Modules, types.Module{ModuleID: "New" + string(rune('A'+i))})
	}
	if closeEnoughForIncremental(prev, &drifted) {
		t.Error("10% module growth accepted as incremental")
	}
}
