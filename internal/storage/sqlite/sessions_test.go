package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

func newSession(envID int64, state types.SyncState) *types.SyncSession {
	s := &types.SyncSession{
		ID:            uuid.NewString(),
		EnvironmentID: envID,
		Strategy:      types.StrategyFullWithoutLabels,
		State:         state,
		StartedAt:     time.Now().UTC(),
	}
	if state.IsTerminal() {
		finished := s.StartedAt.Add(time.Minute)
		s.FinishedAt = &finished
	}
	return s
}

func TestSyncSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	envID, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	session := newSession(envID, types.SyncStatePending)
	if err := store.CreateSyncSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	session.State = types.SyncStateRunning
	session.Phase = types.PhaseSchemas
	session.GlobalVersionID = versionID
	session.ItemsTotal = 420
	session.ItemsDone = 17
	session.ErrorsCount = 1
	session.ErrorMessages = []string{"entity CustTable: schema fetch failed"}
	if err := store.UpdateSyncSession(ctx, session); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetSyncSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != types.SyncStateRunning || got.Phase != types.PhaseSchemas {
		t.Errorf("state/phase = %s/%s", got.State, got.Phase)
	}
	if got.GlobalVersionID != versionID {
		t.Errorf("version = %d, want %d", got.GlobalVersionID, versionID)
	}
	if got.ItemsDone != 17 || got.ItemsTotal != 420 {
		t.Errorf("progress = %d/%d", got.ItemsDone, got.ItemsTotal)
	}
	if got.LastError() != "entity CustTable: schema fetch failed" {
		t.Errorf("last error = %q", got.LastError())
	}
	if got.FinishedAt != nil {
		t.Error("running session has finished_at")
	}
}

func TestCreateSyncSessionRefusesConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	envID, _ := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	first := newSession(envID, types.SyncStateRunning)
	if err := store.CreateSyncSession(ctx, first); err != nil {
		t.Fatalf("first create: %v", err)
	}

	err := store.CreateSyncSession(ctx, newSession(envID, types.SyncStatePending))
	if !types.IsKind(err, types.ErrSyncConflict) {
		t.Errorf("second create error = %v, want sync_conflict", err)
	}

	// A different environment is unaffected.
	envB, _ := seedEnvironmentVersion(t, store, "https://b.example", testModules())
	if err := store.CreateSyncSession(ctx, newSession(envB, types.SyncStatePending)); err != nil {
		t.Errorf("other environment blocked: %v", err)
	}

	// Once the first session finishes, a new one is allowed.
	first.State = types.SyncStateCompleted
	finished := time.Now().UTC()
	first.FinishedAt = &finished
	if err := store.UpdateSyncSession(ctx, first); err != nil {
		t.Fatalf("finish first: %v", err)
	}
	if err := store.CreateSyncSession(ctx, newSession(envID, types.SyncStatePending)); err != nil {
		t.Errorf("create after completion: %v", err)
	}
}

func TestActiveSyncSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	envID, _ := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	active, err := store.ActiveSyncSession(ctx, envID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active != nil {
		t.Fatalf("phantom active session: %+v", active)
	}

	session := newSession(envID, types.SyncStateRunning)
	if err := store.CreateSyncSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	active, err = store.ActiveSyncSession(ctx, envID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ID != session.ID {
		t.Errorf("active = %+v, want session %s", active, session.ID)
	}
}

func TestListSyncSessionsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	envID, _ := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	old := newSession(envID, types.SyncStateCompleted)
	old.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	if err := store.CreateSyncSession(ctx, old); err != nil {
		t.Fatalf("create old: %v", err)
	}
	recent := newSession(envID, types.SyncStateFailed)
	if err := store.CreateSyncSession(ctx, recent); err != nil {
		t.Fatalf("create recent: %v", err)
	}

	sessions, err := store.ListSyncSessions(ctx, envID, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[0].ID != recent.ID {
		t.Errorf("not ordered newest first: %s", sessions[0].ID)
	}

	sessions, err = store.ListSyncSessions(ctx, envID, types.SyncStateFailed, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != recent.ID {
		t.Errorf("state filter: %+v", sessions)
	}
}

func TestUpdateMissingSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	session := newSession(1, types.SyncStatePending)
	err := store.UpdateSyncSession(context.Background(), session)
	if err == nil {
		t.Fatal("update of missing session succeeded")
	}
}
