package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a target or profile row does not exist.
var ErrNotFound = errors.New("not found")

// Target is a saved target definition.
type Target struct {
	Handle    string    `json:"handle"`
	Name      string    `json:"name"`
	SavedAt   time.Time `json:"saved_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileRecord indexes one provisioning profile written to disk.
type ProfileRecord struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	Memento      string    `json:"memento"`
	Path         string    `json:"path"`
	BundleCount  int       `json:"bundle_count"`
	FeatureCount int       `json:"feature_count"`
	Severity     string    `json:"severity"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// Store defines the interface for the profile index.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Target operations
	SaveTarget(ctx context.Context, target *Target, profileIDs []string) error
	GetTarget(ctx context.Context, handle string) (*Target, error)
	ListTargets(ctx context.Context) ([]*Target, error)
	DeleteTarget(ctx context.Context, handle string) error
	TargetProfiles(ctx context.Context, handle string) ([]string, error)
	ReferencedProfiles(ctx context.Context) (map[string]bool, error)

	// Profile operations
	UpsertProfile(ctx context.Context, profile *ProfileRecord) error
	GetProfile(ctx context.Context, id string) (*ProfileRecord, error)
	TouchProfile(ctx context.Context, id string, at time.Time) error
	ListProfiles(ctx context.Context) ([]*ProfileRecord, error)
	DeleteProfile(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
