package engine

import (
	"context"
	"time"
)

// Profile is a materialized resolution of a provisioned location.
type Profile struct {
	ID        string          `json:"id"`
	Handle    string          `json:"handle"`
	Memento   string          `json:"memento"`
	CreatedAt time.Time       `json:"createdAt"`
	Bundles   []TargetBundle  `json:"bundles"`
	Features  []TargetFeature `json:"features"`
	Status    *Status         `json:"status,omitempty"`
}

// ProfileBuilder computes profile contents. Returning an error prevents the
// profile from being persisted.
type ProfileBuilder func(ctx context.Context) (*Profile, error)

// ProfileCache stores provisioning profiles keyed by the identity of a
// definition handle and a location memento.
type ProfileCache interface {
	// Provision returns the stored profile for handle and memento, or calls
	// build and persists its result. reused reports a cache hit.
	Provision(ctx context.Context, handle, memento string, build ProfileBuilder) (profile *Profile, reused bool, err error)
}

// Observer receives resolution measurements.
type Observer interface {
	LocationResolved(locationType LocationType, severity Severity, elapsed time.Duration, bundles int)
	DefinitionResolved(severity Severity, elapsed time.Duration, bundles int)
}
