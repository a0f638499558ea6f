// Package provisioning loads installable-unit metadata repositories and
// computes transitive closures over them with a planner (exact, validated) or
// a slicer (permissive, best-effort) strategy.
//
// A repository is a directory or URL holding a content.yaml document:
//
//	name: example
//	units:
//	  - id: org.example.core
//	    version: 1.2.0
//	    type: bundle
//	    artifact: plugins/org.example.core_1.2.0.jar
//	    requires:
//	      - id: org.example.base
//	        range: "[1.0,2.0)"
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// ContentFile is the metadata document inside a repository.
const ContentFile = "content.yaml"

// UnitType distinguishes module units from feature units.
type UnitType string

const (
	UnitBundle  UnitType = "bundle"
	UnitFeature UnitType = "feature"
)

// Unit is one installable unit.
type Unit struct {
	ID       string        `yaml:"id" validate:"required"`
	Version  string        `yaml:"version" validate:"required"`
	Type     UnitType      `yaml:"type" validate:"omitempty,oneof=bundle feature"`
	Fragment bool          `yaml:"fragment,omitempty"`
	Source   bool          `yaml:"source,omitempty"`
	Artifact string        `yaml:"artifact,omitempty"`
	Filter   engine.Filter `yaml:"filter,omitempty"`
	Requires []Requirement `yaml:"requires,omitempty" validate:"dive"`

	// Location is the absolute artifact URI, set when the repository is loaded.
	Location string `yaml:"-"`

	parsed version.Version
}

// Key returns id_version.
func (u *Unit) Key() string {
	return u.ID + "_" + u.Version
}

// IsFeature reports whether the unit describes a feature.
func (u *Unit) IsFeature() bool {
	return u.Type == UnitFeature
}

// Requirement is a dependency of a unit on another unit.
type Requirement struct {
	ID       string        `yaml:"id" validate:"required"`
	Range    string        `yaml:"range,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
	Greedy   *bool         `yaml:"greedy,omitempty"`
	Filter   engine.Filter `yaml:"filter,omitempty"`

	parsed version.Range
}

// IsGreedy reports whether an optional requirement should still be followed
// when it can be satisfied. Requirements are greedy unless stated otherwise.
func (r Requirement) IsGreedy() bool {
	return r.Greedy == nil || *r.Greedy
}

type document struct {
	Name  string `yaml:"name"`
	Units []Unit `yaml:"units" validate:"dive"`
}

// Repository is a loaded metadata repository.
type Repository struct {
	URI   string
	Name  string
	Units []*Unit

	byID map[string][]*Unit
}

var validate = validator.New()

// ParseRepository decodes content.yaml. base is the repository URI artifact
// paths are resolved against.
func ParseRepository(r io.Reader, base string) (*Repository, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, engine.NewPermanentError("failed to parse repository metadata", err).
			WithResource(base).WithCode(engine.ErrCodeMalformed)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, engine.NewPermanentError("invalid repository metadata", err).
			WithResource(base).WithCode(engine.ErrCodeMalformed)
	}

	repo := &Repository{URI: base, Name: doc.Name, byID: make(map[string][]*Unit)}
	for i := range doc.Units {
		u := &doc.Units[i]
		v, err := version.Parse(u.Version)
		if err != nil {
			return nil, engine.NewPermanentError("invalid unit version", err).
				WithResource(base).WithCode(engine.ErrCodeMalformed)
		}
		u.parsed = v
		u.Version = v.String()
		if u.Type == "" {
			u.Type = UnitBundle
		}
		for j := range u.Requires {
			rng, err := version.ParseRange(u.Requires[j].Range)
			if err != nil {
				return nil, engine.NewPermanentError("invalid requirement range", err).
					WithResource(base).WithCode(engine.ErrCodeMalformed)
			}
			u.Requires[j].parsed = rng
		}
		u.Location = resolveArtifact(base, u.Artifact)
		repo.Units = append(repo.Units, u)
		repo.byID[u.ID] = append(repo.byID[u.ID], u)
	}
	for _, units := range repo.byID {
		sort.SliceStable(units, func(i, j int) bool {
			return units[i].parsed.Compare(units[j].parsed) > 0
		})
	}
	return repo, nil
}

func resolveArtifact(base, artifact string) string {
	if artifact == "" {
		return ""
	}
	if u, err := url.Parse(artifact); err == nil && u.Scheme != "" {
		return artifact
	}
	b, err := url.Parse(base)
	if err != nil {
		return artifact
	}
	b.Path = path.Join(b.Path, artifact)
	return b.String()
}

// Query returns the units with id whose version lies in rng, highest first.
func (r *Repository) Query(id string, rng version.Range) []*Unit {
	var out []*Unit
	for _, u := range r.byID[id] {
		if rng.Contains(u.parsed) {
			out = append(out, u)
		}
	}
	return out
}

// Pool queries several repositories as one.
type Pool []*Repository

// Query returns matching units of every repository, highest first. A unit
// present in several repositories is returned once.
func (p Pool) Query(id string, rng version.Range) []*Unit {
	var out []*Unit
	seen := make(map[string]bool)
	for _, repo := range p {
		for _, u := range repo.Query(id, rng) {
			if !seen[u.Version] {
				seen[u.Version] = true
				out = append(out, u)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].parsed.Compare(out[j].parsed) > 0
	})
	return out
}

// Highest returns the highest unit with id in rng whose filter accepts one of envs.
func (p Pool) Highest(id string, rng version.Range, envs []engine.Environment) *Unit {
	for _, u := range p.Query(id, rng) {
		if u.Filter.IsEmpty() || u.Filter.MatchesAny(envs) {
			return u
		}
	}
	return nil
}

// Loader fetches repositories from the filesystem or over http(s) and keeps
// them for the lifetime of the loader.
type Loader struct {
	client   *http.Client
	defaults []string
	retries  int
	backoff  time.Duration

	mu    sync.Mutex
	cache map[string]*Repository
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient replaces the pooled client used for remote repositories.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = c
	}
}

// WithRetries sets how often a retryable fetch is repeated and the delay
// before the first repeat. The delay doubles with each attempt.
func WithRetries(n int, backoff time.Duration) LoaderOption {
	return func(l *Loader) {
		l.retries = n
		l.backoff = backoff
	}
}

// WithDefaultRepositories sets the repositories used by locations that list none.
func WithDefaultRepositories(uris ...string) LoaderOption {
	return func(l *Loader) {
		l.defaults = append([]string{}, uris...)
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		client:  cleanhttp.DefaultPooledClient(),
		retries: 2,
		backoff: 250 * time.Millisecond,
		cache:   make(map[string]*Repository),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultRepositories returns the implicit repositories.
func (l *Loader) DefaultRepositories() []string {
	return append([]string{}, l.defaults...)
}

// Forget drops every cached repository.
func (l *Loader) Forget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Repository)
}

// Load returns the repository at uri, a filesystem path, a file: URI or an
// http(s) URL. Network failures are transient errors; unreadable or invalid
// metadata is permanent.
func (l *Loader) Load(ctx context.Context, uri string) (*Repository, error) {
	l.mu.Lock()
	if repo, ok := l.cache[uri]; ok {
		l.mu.Unlock()
		return repo, nil
	}
	l.mu.Unlock()

	var (
		repo *Repository
		err  error
	)
	u, perr := url.Parse(uri)
	switch {
	case perr == nil && (u.Scheme == "http" || u.Scheme == "https"):
		repo, err = l.fetchWithRetry(ctx, uri)
	case perr == nil && u.Scheme == "file":
		repo, err = l.open(filepath.FromSlash(u.Path), uri)
	default:
		abs, aerr := filepath.Abs(uri)
		if aerr != nil {
			return nil, aerr
		}
		repo, err = l.open(abs, "file://"+filepath.ToSlash(abs))
	}
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("repository", uri).Int("units", len(repo.Units)).Msg("Repository loaded")

	l.mu.Lock()
	l.cache[uri] = repo
	l.mu.Unlock()
	return repo, nil
}

func (l *Loader) open(dir, base string) (*Repository, error) {
	target := dir
	if !strings.HasSuffix(dir, ".yaml") {
		target = filepath.Join(dir, ContentFile)
	} else {
		base = strings.TrimSuffix(base, "/"+ContentFile)
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, engine.NewPermanentError("failed to open repository", err).
			WithResource(dir).WithOperation("open").WithCode(engine.ErrCodeRepositoryUnavailable)
	}
	defer f.Close()
	return ParseRepository(f, base)
}

func (l *Loader) fetchWithRetry(ctx context.Context, uri string) (*Repository, error) {
	delay := l.backoff
	for attempt := 0; ; attempt++ {
		repo, err := l.fetch(ctx, uri)
		if err == nil || !engine.IsRetryable(err) || attempt >= l.retries {
			return repo, err
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("repository", uri).Int("attempt", attempt+1).Msg("Retrying repository fetch")
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (l *Loader) fetch(ctx context.Context, uri string) (*Repository, error) {
	base := strings.TrimSuffix(uri, "/")
	target := base + "/" + ContentFile
	if strings.HasSuffix(base, ".yaml") {
		target = base
		base = base[:strings.LastIndex(base, "/")]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, engine.NewPermanentError("invalid repository URL", err).WithResource(uri).WithOperation("fetch")
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, engine.NewTransientError("failed to fetch repository", err).
			WithResource(uri).WithOperation("fetch").WithCode(engine.ErrCodeRepositoryUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, engine.NewTransientError("failed to fetch repository",
			fmt.Errorf("unexpected status %s", resp.Status)).
			WithResource(uri).WithOperation("fetch").WithCode(engine.ErrCodeRepositoryUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, engine.NewPermanentError("failed to fetch repository",
			fmt.Errorf("unexpected status %s", resp.Status)).
			WithResource(uri).WithOperation("fetch").WithCode(engine.ErrCodeRepositoryUnavailable)
	}
	return ParseRepository(resp.Body, base+"/")
}
