// Package metrics exposes prometheus counters for tile serving. All methods are
// safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	tileErrors   *prometheus.CounterVec
	modeSwitches *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigatile_cache_hits_total",
			Help: "Total number of tile cache hits",
		}, []string{"image"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigatile_cache_misses_total",
			Help: "Total number of tile cache misses",
		}, []string{"image"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigatile_cache_evictions_total",
			Help: "Total number of tiles removed from the cache",
		}, []string{"image", "reason"}),
		tileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigatile_tile_errors_total",
			Help: "Total number of failed tile requests",
		}, []string{"image", "kind"}),
		modeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigatile_mode_switches_total",
			Help: "Total number of compute mode transitions",
		}, []string{"image"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gigatile_fetch_seconds",
			Help:    "Latency of tile fetches on cache miss in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"image", "mode"}),
	}

	if reg != nil {
		reg.MustRegister(m.cacheHits, m.cacheMisses, m.evictions, m.tileErrors, m.modeSwitches, m.fetchLatency)
	}
	return m
}

func (m *Metrics) CacheHit(image string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(image).Inc()
}

func (m *Metrics) CacheMiss(image string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(image).Inc()
}

func (m *Metrics) Eviction(image, reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(image, reason).Inc()
}

func (m *Metrics) TileError(image, kind string) {
	if m == nil {
		return
	}
	m.tileErrors.WithLabelValues(image, kind).Inc()
}

func (m *Metrics) ModeSwitch(image string) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(image).Inc()
}

func (m *Metrics) ObserveFetch(image, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchLatency.WithLabelValues(image, mode).Observe(d.Seconds())
}
