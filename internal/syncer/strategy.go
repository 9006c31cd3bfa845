package syncer

import (
	"context"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// incrementalModuleDrift is the tolerated change in module count before
// the incremental strategy falls back to full. The registry keeps only a
// sample of each version's modules, so overlap is judged from the sample
// plus the module count.
const incrementalModuleDrift = 0.05

// requiredKinds says which metadata kinds a strategy must write at least
// one batch of for the session to count as successful.
type requiredKinds struct {
	Entities     bool
	Enumerations bool
	Actions      bool
	Labels       bool
}

func requirementsFor(strategy types.SyncStrategy) requiredKinds {
	switch strategy {
	case types.StrategyFull:
		return requiredKinds{Entities: true, Enumerations: true, Actions: true, Labels: true}
	case types.StrategyFullWithoutLabels, types.StrategyIncremental:
		return requiredKinds{Entities: true, Enumerations: true, Actions: true}
	case types.StrategyEntitiesOnly:
		return requiredKinds{Entities: true}
	case types.StrategyLabelsOnly:
		return requiredKinds{Labels: true}
	}
	// sharing_mode writes nothing.
	return requiredKinds{}
}

// selectStrategy picks a strategy for an environment that did not ask for
// one. Decision order: never synced before, a peer already completed this
// exact version, the environment's own previous version is close enough
// to reuse, otherwise full.
func selectStrategy(ctx context.Context, store storage.MetadataStore, envID int64, target *types.GlobalVersion, detected *types.EnvironmentVersion) (types.SyncStrategy, int64) {
	shared, err := store.HasCompletedSync(ctx, target.ID, envID)
	if err == nil && shared {
		return types.StrategySharingMode, 0
	}

	link, err := store.ActiveVersionLink(ctx, envID)
	if err != nil || link == nil {
		return types.StrategyFullWithoutLabels, 0
	}

	if link.SyncStatus == types.SyncStatusCompleted && link.GlobalVersionID != target.ID {
		prev, err := store.GetGlobalVersion(ctx, link.GlobalVersionID)
		if err == nil && closeEnoughForIncremental(prev, detected) {
			return types.StrategyIncremental, prev.ID
		}
		if err != nil {
			debug.Logf("sync: previous version %d unreadable, falling back to full: %v", link.GlobalVersionID, err)
		}
	}
	return types.StrategyFull, 0
}

// closeEnoughForIncremental approximates the module-id overlap between the
// previous version and the newly detected one. Every stored sample module
// must still be installed and the total module count may not have drifted
// past the threshold; any doubt means full.
func closeEnoughForIncremental(prev *types.GlobalVersion, detected *types.EnvironmentVersion) bool {
	if prev == nil || prev.ModuleCount == 0 || len(prev.SampleModules) == 0 {
		return false
	}
	installed := make(map[string]struct{}, len(detected.Modules))
	for _, m := range detected.Modules {
		installed[m.ModuleID] = struct{}{}
	}
	for _, m := range prev.SampleModules {
		if _, ok := installed[m.ModuleID]; !ok {
			return false
		}
	}
	drift := float64(len(detected.Modules)-prev.ModuleCount) / float64(prev.ModuleCount)
	if drift < 0 {
		drift = -drift
	}
	return drift <= incrementalModuleDrift
}
