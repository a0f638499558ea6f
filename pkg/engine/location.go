package engine

import (
	"context"
	"fmt"
	"sync"
)

// LocationType names a location variant.
type LocationType string

const (
	LocationDirectory       LocationType = "directory"
	LocationProfile         LocationType = "profile"
	LocationFeature         LocationType = "feature"
	LocationInstallableUnit LocationType = "installable_unit"
)

// Validate checks if the location type is valid.
func (t LocationType) Validate() error {
	switch t {
	case LocationDirectory, LocationProfile, LocationFeature, LocationInstallableUnit:
		return nil
	default:
		return fmt.Errorf("invalid location type: %s", t)
	}
}

// Location is one source of modules and features in a target definition.
//
// Resolve is idempotent: when the location is already resolved and force is
// false it returns the cached status without doing any work. A cancelled
// resolve leaves the previous state untouched. Bundles, Features and Status
// return nil until the location is resolved.
type Location interface {
	Type() LocationType
	Resolve(ctx context.Context, def *TargetDefinition, force bool) *Status
	IsResolved() bool
	Bundles() []TargetBundle
	Features() []TargetFeature
	Status() *Status

	// Invalidate drops the cached resolution.
	Invalidate()

	// ContentEqual compares configuration, never resolved output.
	ContentEqual(other Location) bool

	String() string
}

// VMArgumentsProvider is implemented by locations backed by a full
// installation with a launcher configuration.
type VMArgumentsProvider interface {
	VMArguments() []string
}

// Provisioned is implemented by locations whose resolution is cached in a
// provisioning profile. ProfileMemento is the canonical form of the
// location's content as resolved for def.
type Provisioned interface {
	ProfileMemento(def *TargetDefinition) string
}

// ResolutionCache holds the last committed resolution of a location.
// Location implementations embed it to get IsResolved, Bundles, Features,
// Status and Invalidate.
type ResolutionCache struct {
	mu       sync.RWMutex
	resolved bool
	bundles  []TargetBundle
	features []TargetFeature
	status   *Status
}

// Cached returns the committed status when resolved and force is false.
func (c *ResolutionCache) Cached(force bool) (*Status, bool) {
	if force {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.resolved {
		return nil, false
	}
	return c.status, true
}

// Commit stores a resolution result unless ctx has been cancelled, in which
// case the previous state is kept and a cancel status is returned.
func (c *ResolutionCache) Commit(ctx context.Context, bundles []TargetBundle, features []TargetFeature, status *Status) *Status {
	if st := StatusFromContext(ctx); st != nil {
		return st
	}
	if status == nil {
		status = OKStatus()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = true
	c.bundles = bundles
	c.features = features
	c.status = status
	return status
}

// IsResolved reports whether a resolution has been committed.
func (c *ResolutionCache) IsResolved() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolved
}

// Bundles returns a copy of the resolved bundles, or nil.
func (c *ResolutionCache) Bundles() []TargetBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.resolved {
		return nil
	}
	return append([]TargetBundle{}, c.bundles...)
}

// Features returns a copy of the resolved features, or nil.
func (c *ResolutionCache) Features() []TargetFeature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.resolved {
		return nil
	}
	return append([]TargetFeature{}, c.features...)
}

// Status returns the resolution status, or nil.
func (c *ResolutionCache) Status() *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.resolved {
		return nil
	}
	return c.status
}

// Invalidate drops the cached resolution.
func (c *ResolutionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = false
	c.bundles = nil
	c.features = nil
	c.status = nil
}
