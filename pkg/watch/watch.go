// Package watch re-resolves target definitions when their files or location
// contents change on disk.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/locations"
)

// DefaultDelay is the quiet period after the last change before the
// callback runs.
const DefaultDelay = 500 * time.Millisecond

// Watcher forwards batches of file system changes to a callback.
type Watcher struct {
	logger zerolog.Logger
	delay  time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// New creates a watcher.
func New(logger zerolog.Logger, opts ...Option) *Watcher {
	w := &Watcher{logger: logger, delay: DefaultDelay}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches paths until ctx is done. Directories are watched recursively.
// Files are watched through their parent directory, so a file replaced by a
// rename stays watched; other entries of that directory are ignored.
// Changes are debounced; onChange receives the sorted set of changed paths
// and runs on the watching goroutine, so calls never overlap.
func (w *Watcher) Run(ctx context.Context, paths []string, onChange func(ctx context.Context, changed []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	tr := &tree{fw: fw, dirs: make(map[string]bool), files: make(map[string]bool)}
	watched := 0
	for _, path := range paths {
		path = filepath.Clean(path)
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			err = tr.addDir(path)
		} else {
			err = tr.addFile(path)
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("none of %d paths could be watched", len(paths))
	}
	w.logger.Info().Int("paths", watched).Msg("Started watching")

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = make(map[string]bool)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !tr.wants(event.Name) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Change detected")

			if event.Op&fsnotify.Create != 0 && tr.dirs[filepath.Dir(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := tr.addDir(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
				}
			}

			pending[event.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			slices.Sort(changed)
			clear(pending)
			onChange(ctx, changed)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// tree tracks what a Run watches: whole directory trees and single files.
type tree struct {
	fw    *fsnotify.Watcher
	dirs  map[string]bool
	files map[string]bool
}

func (t *tree) addDir(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := t.fw.Add(path); err != nil {
			return err
		}
		t.dirs[path] = true
		return nil
	})
}

func (t *tree) addFile(path string) error {
	if err := t.fw.Add(filepath.Dir(path)); err != nil {
		return err
	}
	t.files[path] = true
	return nil
}

// wants reports whether an event for name belongs to a watched path.
func (t *tree) wants(name string) bool {
	return t.files[name] || t.dirs[filepath.Dir(name)] || t.dirs[name]
}

// Paths returns the file system paths that determine def's content: file
// (if not empty) plus the roots of its file-backed locations. Installable
// unit locations have no local roots and are skipped.
func Paths(file string, def *engine.TargetDefinition) []string {
	var out []string
	if file != "" {
		out = append(out, file)
	}
	for _, loc := range def.Locations() {
		switch l := loc.(type) {
		case *locations.DirectoryLocation:
			out = append(out, l.Path())
		case *locations.ProfileLocation:
			out = append(out, l.InstallPath())
			if l.ConfigArea() != "" {
				out = append(out, l.ConfigArea())
			}
		case *locations.FeatureLocation:
			out = append(out, l.Root())
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Reresolve drops the cached resolution of every location in def and
// resolves it again.
func Reresolve(ctx context.Context, def *engine.TargetDefinition) *engine.Status {
	for _, loc := range def.Locations() {
		loc.Invalidate()
	}
	return def.Resolve(ctx, true)
}
