// Package version detects an environment's module fingerprint and manages
// the cross-environment global version registry built on it.
package version

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// DetectionCacheTTL bounds how long a detection result is reused per
// environment before the modules are fetched again.
const DetectionCacheTTL = 5 * time.Minute

const (
	systemEntitySet       = "SystemNotifications"
	actionInstalledMods   = "GetInstalledModules"
	actionAppVersion      = "GetApplicationVersion"
	actionPlatformVersion = "GetPlatformBuildVersion"
)

// Detector resolves an environment's installed modules into a fingerprint.
// Results are cached per base URL for DetectionCacheTTL.
type Detector struct {
	clock clock.Clock

	mu    sync.Mutex
	cache map[string]cachedDetection
}

type cachedDetection struct {
	result *types.EnvironmentVersion
	at     time.Time
}

// NewDetector builds a detector on the given clock.
func NewDetector(clk clock.Clock) *Detector {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Detector{clock: clk, cache: make(map[string]cachedDetection)}
}

// DetectVersion fetches the installed module list and derives the
// fingerprint hashes. With useCache, a result younger than
// DetectionCacheTTL for the same base URL is returned without a request.
func (d *Detector) DetectVersion(ctx context.Context, client odata.Client, useCache bool) (*types.EnvironmentVersion, error) {
	key := client.BaseURL()
	if useCache {
		d.mu.Lock()
		entry, ok := d.cache[key]
		d.mu.Unlock()
		if ok && d.clock.Now().Sub(entry.at) < DetectionCacheTTL {
			return entry.result, nil
		}
	}

	payload, err := client.CallAction(ctx, systemEntitySet, actionInstalledMods, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrVersionDetection, err, "fetch installed modules from %s", key)
	}
	lines, err := odata.DecodeStringCollection(payload)
	if err != nil {
		return nil, types.WrapError(types.ErrVersionDetection, err, "decode installed modules from %s", key)
	}

	var modules []types.Module
	for _, line := range lines {
		m, ok := parseModuleLine(line)
		if !ok {
			debug.Logf("version: skipping unparseable module line %q", line)
			continue
		}
		modules = append(modules, m)
	}
	if len(modules) == 0 {
		return nil, types.NewError(types.ErrVersionDetection,
			"no parseable modules in %d installed-module entries from %s", len(lines), key)
	}

	hash := types.ComputeModulesHash(modules)
	result := &types.EnvironmentVersion{
		Modules:     modules,
		ModulesHash: hash,
		VersionHash: types.ShortVersionHash(hash),
		DetectedAt:  d.clock.Now().UTC(),
	}

	// Version descriptors are cosmetic; failures here never block a sync.
	if v, err := d.stringAction(ctx, client, actionAppVersion); err != nil {
		debug.Logf("version: %s failed: %v", actionAppVersion, err)
	} else {
		result.ApplicationVersion = v
	}
	if v, err := d.stringAction(ctx, client, actionPlatformVersion); err != nil {
		debug.Logf("version: %s failed: %v", actionPlatformVersion, err)
	} else {
		result.PlatformVersion = v
	}

	d.mu.Lock()
	d.cache[key] = cachedDetection{result: result, at: d.clock.Now()}
	d.mu.Unlock()
	return result, nil
}

// Invalidate drops the cached detection for one base URL.
func (d *Detector) Invalidate(baseURL string) {
	d.mu.Lock()
	delete(d.cache, types.CanonicalBaseURL(baseURL))
	d.mu.Unlock()
}

func (d *Detector) stringAction(ctx context.Context, client odata.Client, action string) (string, error) {
	payload, err := client.CallAction(ctx, systemEntitySet, action, nil)
	if err != nil {
		return "", err
	}
	return odata.DecodeStringValue(payload)
}

// parseModuleLine splits one installed-module descriptor of the shape
// "Name: X | Version: Y | Module: Z | Publisher: P | DisplayName: D".
// The Module and Version fields are required; the rest are optional.
func parseModuleLine(line string) (types.Module, bool) {
	var m types.Module
	for _, part := range strings.Split(line, "|") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			m.Name = value
		case "Version":
			m.Version = value
		case "Module":
			m.ModuleID = value
		case "Publisher":
			m.Publisher = value
		case "DisplayName":
			m.DisplayName = value
		}
	}
	if m.ModuleID == "" || m.Version == "" {
		return types.Module{}, false
	}
	return m, true
}
