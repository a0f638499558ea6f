// Package profile implements the provisioning profile cache. A profile is the
// persisted resolution of one installable unit location for one target
// definition. Its identity is a content digest of the definition handle and
// the location memento, so equal requests reuse the same profile without
// touching any repository.
//
// Profiles live under <cacheDir>/profiles/<digest>/profile.json and are
// indexed in a stores.Store together with the saved definitions that keep
// them alive. Profiles no saved definition references are orphans and can be
// removed with CleanOrphanedProfiles.
package profile

import (
	"context"
	_ "crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/stores"
)

const (
	// ProfilesDir is the folder below the cache directory holding profiles.
	ProfilesDir = "profiles"
	// ProfileFile is the profile document inside a profile folder.
	ProfileFile = "profile.json"

	tempPrefix = ".tmp-"
)

// ID returns the identity of the profile for handle and memento.
func ID(handle, memento string) string {
	return digest.FromString(handle + "\n" + memento).String()
}

// Observer receives profile cache events.
type Observer interface {
	ProfileProvisioned(reused bool)
	ProfilesRemoved(count int)
}

// Store is a file-backed engine.ProfileCache.
type Store struct {
	dir      string
	index    stores.Store
	observer Observer
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*idLock
}

// idLock serializes work on one profile identity. It is dropped from the
// map once no caller holds or waits for it.
type idLock struct {
	sync.Mutex
	refs int
}

var _ engine.ProfileCache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithObserver reports cache hits, misses and removals to o.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates a profile store below cacheDir using index for bookkeeping.
func New(cacheDir string, index stores.Store, opts ...Option) (*Store, error) {
	if index == nil {
		return nil, fmt.Errorf("profile index is required")
	}
	dir := filepath.Join(cacheDir, ProfilesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	s := &Store{
		dir:   dir,
		index: index,
		now:   time.Now,
		locks: make(map[string]*idLock),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the folder holding the profiles.
func (s *Store) Dir() string { return s.dir }

func (s *Store) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Store) path(id string) (string, error) {
	d, err := digest.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid profile id %q: %w", id, err)
	}
	return filepath.Join(s.dir, d.Encoded()), nil
}

// Provision implements engine.ProfileCache. Concurrent calls for the same
// identity build at most once. A profile that cannot be written is still
// returned; it is simply built again next time.
func (s *Store) Provision(ctx context.Context, handle, memento string, build engine.ProfileBuilder) (*engine.Profile, bool, error) {
	id := ID(handle, memento)
	unlock := s.lock(id)
	defer unlock()

	logger := zerolog.Ctx(ctx).With().Str("profile", id).Logger()

	if p, err := s.Load(id); err == nil {
		if err := s.index.TouchProfile(ctx, id, s.now().UTC()); err != nil && !errors.Is(err, stores.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to record profile use")
		}
		s.provisioned(true)
		logger.Debug().Msg("Reusing provisioning profile")
		return p, true, nil
	} else if !errors.Is(err, engine.ErrNotFound) {
		logger.Warn().Err(err).Msg("Discarding unreadable provisioning profile")
	}

	p, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	p.ID = id
	p.Handle = handle
	p.Memento = memento
	p.CreatedAt = s.now().UTC()

	if err := s.write(ctx, p); err != nil {
		if engine.IsConflict(err) {
			logger.Debug().Err(err).Msg("Provisioning profile written concurrently")
		} else {
			logger.Warn().Err(err).Msg("Failed to persist provisioning profile")
		}
	}
	s.provisioned(false)
	return p, false, nil
}

func (s *Store) provisioned(reused bool) {
	if s.observer != nil {
		s.observer.ProfileProvisioned(reused)
	}
}

// Load reads a persisted profile. A missing profile yields engine.ErrNotFound.
func (s *Store) Load(id string) (*engine.Profile, error) {
	dir, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, ProfileFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("profile %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", id, err)
	}
	var p engine.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", engine.ErrMalformedDocument, id, err)
	}
	if p.ID != id {
		return nil, fmt.Errorf("%w: profile %s records id %s", engine.ErrMalformedDocument, id, p.ID)
	}
	return &p, nil
}

// write stores p in a temporary folder and renames it into place.
func (s *Store) write(ctx context.Context, p *engine.Profile) error {
	final, err := s.path(p.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	tmp, err := os.MkdirTemp(s.dir, tempPrefix)
	if err != nil {
		return fmt.Errorf("failed to create temporary profile folder: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, ProfileFile), data, 0o644); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to write profile: %w", err)
	}
	// A stale or unreadable folder is replaced.
	if err := os.RemoveAll(final); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to replace profile: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		// Another process provisioned the same identity in between.
		return engine.NewConflictError("failed to move profile into place", err).
			WithResource(final).WithOperation("provision")
	}

	severity := engine.SeverityOK
	if p.Status != nil {
		severity = p.Status.Severity
	}
	return s.index.UpsertProfile(ctx, &stores.ProfileRecord{
		ID:           p.ID,
		Handle:       p.Handle,
		Memento:      p.Memento,
		Path:         final,
		BundleCount:  len(p.Bundles),
		FeatureCount: len(p.Features),
		Severity:     severity.String(),
		CreatedAt:    p.CreatedAt,
		LastUsedAt:   p.CreatedAt,
	})
}

// ProfileIDs returns the identities of the profiles def's provisioned
// locations use.
func ProfileIDs(def *engine.TargetDefinition) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, loc := range def.Locations() {
		p, ok := loc.(engine.Provisioned)
		if !ok {
			continue
		}
		id := ID(def.Handle(), p.ProfileMemento(def))
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarkSaved records def as a saved definition. Its profiles are no longer
// orphans.
func (s *Store) MarkSaved(ctx context.Context, def *engine.TargetDefinition) error {
	target := &stores.Target{Handle: def.Handle(), Name: def.Name()}
	if err := s.index.SaveTarget(ctx, target, ProfileIDs(def)); err != nil {
		return fmt.Errorf("failed to mark %s saved: %w", def.Handle(), err)
	}
	return nil
}

// Forget drops the saved record of handle. Its profiles become orphans.
func (s *Store) Forget(ctx context.Context, handle string) error {
	if err := s.index.DeleteTarget(ctx, handle); err != nil && !errors.Is(err, stores.ErrNotFound) {
		return fmt.Errorf("failed to forget %s: %w", handle, err)
	}
	return nil
}

// List returns the indexed profiles, newest first.
func (s *Store) List(ctx context.Context) ([]*stores.ProfileRecord, error) {
	return s.index.ListProfiles(ctx)
}

// onDisk returns the identities of the profile folders present.
func (s *Store) onDisk() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		d := digest.NewDigestFromEncoded(digest.Canonical, e.Name())
		if d.Validate() != nil {
			continue
		}
		ids = append(ids, d.String())
	}
	return ids, nil
}

// CleanOrphanedProfiles deletes every persisted profile no saved definition
// references and returns the deleted ids in sorted order. With no saved
// definitions every profile is deleted. Running it again deletes nothing.
func (s *Store) CleanOrphanedProfiles(ctx context.Context) ([]string, error) {
	referenced, err := s.index.ReferencedProfiles(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := s.onDisk()
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	var (
		removed []string
		result  *multierror.Error
	)
	for _, id := range ids {
		if referenced[id] {
			continue
		}
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}
		if err := s.remove(ctx, id); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		logger.Debug().Str("profile", id).Msg("Removed orphaned profile")
		removed = append(removed, id)
	}

	// Index rows whose folder is already gone.
	if rows, err := s.index.ListProfiles(ctx); err == nil {
		present := make(map[string]bool, len(ids))
		for _, id := range ids {
			present[id] = true
		}
		for _, r := range rows {
			if !present[r.ID] && !referenced[r.ID] {
				if err := s.index.DeleteProfile(ctx, r.ID); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	} else {
		result = multierror.Append(result, err)
	}

	sort.Strings(removed)
	if s.observer != nil && len(removed) > 0 {
		s.observer.ProfilesRemoved(len(removed))
	}
	logger.Info().Int("removed", len(removed)).Int("kept", len(ids)-len(removed)).Msg("Orphaned profiles cleaned")
	return removed, result.ErrorOrNil()
}

func (s *Store) remove(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	dir, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove profile %s: %w", id, err)
	}
	if err := s.index.DeleteProfile(ctx, id); err != nil {
		return fmt.Errorf("failed to unindex profile %s: %w", id, err)
	}
	return nil
}
