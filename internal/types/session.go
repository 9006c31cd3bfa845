package types

import (
	"fmt"
	"time"
)

// SyncStrategy selects which metadata kinds a sync session fetches and how.
type SyncStrategy string

// Sync strategy constants
const (
	// StrategyFull fetches entities, schemas, enumerations, actions, and labels.
	StrategyFull SyncStrategy = "full"
	// StrategyFullWithoutLabels is full minus label prefetch. Default for a
	// first sync: labels resolve lazily afterwards.
	StrategyFullWithoutLabels SyncStrategy = "full_without_labels"
	// StrategyEntitiesOnly refreshes entity lists and schemas only.
	StrategyEntitiesOnly SyncStrategy = "entities_only"
	// StrategyLabelsOnly prefetches labels for an already-synced version.
	StrategyLabelsOnly SyncStrategy = "labels_only"
	// StrategySharingMode adopts metadata another environment already synced
	// for the same version. No remote fetch beyond detection.
	StrategySharingMode SyncStrategy = "sharing_mode"
	// StrategyIncremental reuses rows from the previous version where the
	// module fingerprint overlap allows it.
	StrategyIncremental SyncStrategy = "incremental"
)

// IsValid checks if the strategy value is valid
func (s SyncStrategy) IsValid() bool {
	switch s {
	case StrategyFull, StrategyFullWithoutLabels, StrategyEntitiesOnly,
		StrategyLabelsOnly, StrategySharingMode, StrategyIncremental:
		return true
	}
	return false
}

// IncludesLabels reports whether the strategy prefetches labels.
func (s SyncStrategy) IncludesLabels() bool {
	return s == StrategyFull || s == StrategyLabelsOnly
}

// IncludesEntities reports whether the strategy fetches entity metadata.
func (s SyncStrategy) IncludesEntities() bool {
	switch s {
	case StrategyFull, StrategyFullWithoutLabels, StrategyEntitiesOnly, StrategyIncremental:
		return true
	}
	return false
}

// SyncState is the lifecycle state of a sync session.
type SyncState string

// Sync session state constants
const (
	SyncStatePending    SyncState = "pending"
	SyncStateRunning    SyncState = "running"
	SyncStateCancelling SyncState = "cancelling"
	SyncStateCompleted  SyncState = "completed"
	SyncStateFailed     SyncState = "failed"
	SyncStateCancelled  SyncState = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s SyncState) IsTerminal() bool {
	switch s {
	case SyncStateCompleted, SyncStateFailed, SyncStateCancelled:
		return true
	}
	return false
}

// CanCancel reports whether a cancel request is accepted in this state.
func (s SyncState) CanCancel() bool {
	return s == SyncStatePending || s == SyncStateRunning
}

// CanTransition checks a single state machine edge. The machine is
// forward-only: pending -> running -> (cancelling) -> terminal.
func (s SyncState) CanTransition(to SyncState) bool {
	switch s {
	case SyncStatePending:
		return to == SyncStateRunning || to == SyncStateCancelled || to == SyncStateFailed
	case SyncStateRunning:
		return to == SyncStateCancelling || to == SyncStateCompleted ||
			to == SyncStateFailed || to == SyncStateCancelled
	case SyncStateCancelling:
		return to == SyncStateCancelled || to == SyncStateFailed
	}
	return false
}

// SyncPhase names the stage a running session is in, for progress display.
type SyncPhase string

// Sync phase constants, in execution order.
const (
	PhaseDetecting     SyncPhase = "detecting"
	PhaseEntities      SyncPhase = "entities"
	PhaseSchemas       SyncPhase = "schemas"
	PhaseEnumerations  SyncPhase = "enumerations"
	PhaseActions       SyncPhase = "actions"
	PhaseLabels        SyncPhase = "labels"
	PhaseIndexing      SyncPhase = "indexing"
	PhaseFinalizing    SyncPhase = "finalizing"
)

// SyncSession is one sync run against one environment. Sessions survive in
// the store as history; at most one non-terminal session exists per
// environment.
type SyncSession struct {
	ID              string       `json:"id"`
	EnvironmentID   int64        `json:"environment_id"`
	GlobalVersionID int64        `json:"global_version_id,omitempty"`
	Strategy        SyncStrategy `json:"strategy"`
	State           SyncState    `json:"state"`
	Phase           SyncPhase    `json:"phase,omitempty"`
	ItemsTotal      int          `json:"items_total"`
	ItemsDone       int          `json:"items_done"`
	ErrorsCount     int          `json:"errors_count,omitempty"`
	ErrorMessages   []string     `json:"error_messages,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
}

// LastError returns the most recent recorded error message, or empty.
func (s *SyncSession) LastError() string {
	if len(s.ErrorMessages) == 0 {
		return ""
	}
	return s.ErrorMessages[len(s.ErrorMessages)-1]
}

// Validate checks the session's invariants.
func (s *SyncSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.EnvironmentID == 0 {
		return fmt.Errorf("environment_id is required")
	}
	if !s.Strategy.IsValid() {
		return fmt.Errorf("invalid strategy: %s", s.Strategy)
	}
	if s.State.IsTerminal() && s.FinishedAt == nil {
		return fmt.Errorf("terminal session must have finished_at")
	}
	if !s.State.IsTerminal() && s.FinishedAt != nil {
		return fmt.Errorf("non-terminal session cannot have finished_at")
	}
	return nil
}

// Progress returns done/total as a fraction in [0,1], or 0 when the total
// is not known yet.
func (s *SyncSession) Progress() float64 {
	if s.ItemsTotal <= 0 {
		return 0
	}
	f := float64(s.ItemsDone) / float64(s.ItemsTotal)
	if f > 1 {
		return 1
	}
	return f
}

// SyncProgress is the point-in-time snapshot handed to progress callbacks
// and returned by GetSyncProgress.
type SyncProgress struct {
	SessionID  string       `json:"session_id"`
	State      SyncState    `json:"state"`
	Strategy   SyncStrategy `json:"strategy"`
	Phase      SyncPhase    `json:"phase,omitempty"`
	ItemsTotal int          `json:"items_total"`
	ItemsDone  int          `json:"items_done"`
	Percent    float64      `json:"percent"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
