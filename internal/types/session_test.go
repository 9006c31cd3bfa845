package types

import (
	"testing"
	"time"
)

func TestSyncStateTransitions(t *testing.T) {
	tests := []struct {
		from SyncState
		to   SyncState
		ok   bool
	}{
		{SyncStatePending, SyncStateRunning, true},
		{SyncStatePending, SyncStateCancelled, true},
		{SyncStateRunning, SyncStateCancelling, true},
		{SyncStateRunning, SyncStateCompleted, true},
		{SyncStateRunning, SyncStateFailed, true},
		{SyncStateCancelling, SyncStateCancelled, true},
		{SyncStateCancelling, SyncStateCompleted, false},
		{SyncStateCompleted, SyncStateRunning, false},
		{SyncStateCancelled, SyncStateRunning, false},
		{SyncStateFailed, SyncStatePending, false},
		{SyncStatePending, SyncStateCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestSyncStateTerminal(t *testing.T) {
	terminal := []SyncState{SyncStateCompleted, SyncStateFailed, SyncStateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.CanCancel() {
			t.Errorf("%s should not be cancellable", s)
		}
	}
	live := []SyncState{SyncStatePending, SyncStateRunning}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.CanCancel() {
			t.Errorf("%s should be cancellable", s)
		}
	}
	// Cancelling is neither terminal nor accepts a second cancel.
	if SyncStateCancelling.IsTerminal() {
		t.Error("cancelling should not be terminal")
	}
	if SyncStateCancelling.CanCancel() {
		t.Error("cancelling should not accept another cancel")
	}
}

func TestStrategyLabelSelection(t *testing.T) {
	if !StrategyFull.IncludesLabels() {
		t.Error("full should include labels")
	}
	if StrategyFullWithoutLabels.IncludesLabels() {
		t.Error("full_without_labels should not include labels")
	}
	if !StrategyLabelsOnly.IncludesLabels() {
		t.Error("labels_only should include labels")
	}
	if StrategyLabelsOnly.IncludesEntities() {
		t.Error("labels_only should not include entities")
	}
	if !StrategyIncremental.IncludesEntities() {
		t.Error("incremental should include entities")
	}
}

func TestSessionValidate(t *testing.T) {
	now := time.Now()
	valid := SyncSession{
		ID:            "0c9f2264-0000-0000-0000-000000000000",
		EnvironmentID: 1,
		Strategy:      StrategyFull,
		State:         SyncStateRunning,
		StartedAt:     now,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	terminalNoFinish := valid
	terminalNoFinish.State = SyncStateCompleted
	if err := terminalNoFinish.Validate(); err == nil {
		t.Fatal("terminal session without finished_at should fail")
	}

	runningWithFinish := valid
	runningWithFinish.FinishedAt = &now
	if err := runningWithFinish.Validate(); err == nil {
		t.Fatal("running session with finished_at should fail")
	}

	badStrategy := valid
	badStrategy.Strategy = "turbo"
	if err := badStrategy.Validate(); err == nil {
		t.Fatal("invalid strategy should fail")
	}
}

func TestSessionProgress(t *testing.T) {
	s := SyncSession{ItemsTotal: 200, ItemsDone: 50}
	if got := s.Progress(); got != 0.25 {
		t.Fatalf("got %f, want 0.25", got)
	}
	s = SyncSession{ItemsTotal: 0, ItemsDone: 10}
	if got := s.Progress(); got != 0 {
		t.Fatalf("unknown total should report 0, got %f", got)
	}
	s = SyncSession{ItemsTotal: 10, ItemsDone: 15}
	if got := s.Progress(); got != 1 {
		t.Fatalf("overrun should clamp to 1, got %f", got)
	}
}
