package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/targetplatform/pkg/engine"
)

// Metrics provides Prometheus metrics for target resolution. It implements
// engine.Observer and the profile cache observer.
type Metrics struct {
	config MetricsConfig

	locationDuration   *prometheus.HistogramVec
	definitionDuration *prometheus.HistogramVec
	resolvedBundles    prometheus.Gauge
	profileLookups     *prometheus.CounterVec
	orphansRemoved     prometheus.Counter

	registry *prometheus.Registry
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		locationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "location_resolve_duration_seconds",
				Help:      "Duration of location resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"location_type", "severity"},
		),
		definitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "target_resolve_duration_seconds",
				Help:      "Duration of target definition resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"severity"},
		),
		resolvedBundles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resolved_bundles",
				Help:      "Number of bundles in the last resolved target definition",
			},
		),
		profileLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_cache_lookups_total",
				Help:      "Provisioning profile cache lookups by result",
			},
			[]string{"result"},
		),
		orphansRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphan_profiles_removed_total",
				Help:      "Total number of orphaned provisioning profiles removed",
			},
		),
	}

	registry.MustRegister(
		m.locationDuration,
		m.definitionDuration,
		m.resolvedBundles,
		m.profileLookups,
		m.orphansRemoved,
	)

	return m, nil
}

// LocationResolved records one location resolution.
func (m *Metrics) LocationResolved(locationType engine.LocationType, severity engine.Severity, elapsed time.Duration, _ int) {
	if m.locationDuration == nil {
		return
	}
	m.locationDuration.WithLabelValues(string(locationType), severity.String()).Observe(elapsed.Seconds())
}

// DefinitionResolved records one target definition resolution.
func (m *Metrics) DefinitionResolved(severity engine.Severity, elapsed time.Duration, bundles int) {
	if m.definitionDuration == nil {
		return
	}
	m.definitionDuration.WithLabelValues(severity.String()).Observe(elapsed.Seconds())
	m.resolvedBundles.Set(float64(bundles))
}

// ProfileProvisioned counts a profile cache hit or miss.
func (m *Metrics) ProfileProvisioned(reused bool) {
	if m.profileLookups == nil {
		return
	}
	result := "miss"
	if reused {
		result = "hit"
	}
	m.profileLookups.WithLabelValues(result).Inc()
}

// ProfilesRemoved counts profiles deleted by an orphan sweep.
func (m *Metrics) ProfilesRemoved(count int) {
	if m.orphansRemoved == nil {
		return
	}
	m.orphansRemoved.Add(float64(count))
}

// Registry returns the registry holding the collectors, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	zerolog.Ctx(ctx).Info().Str("address", m.config.ListenAddress).Msg("Serving metrics")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
