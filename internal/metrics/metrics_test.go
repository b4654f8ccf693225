package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHit("a")
	m.CacheHit("a")
	m.CacheMiss("a")
	m.Eviction("a", "capacity")
	m.TileError("b", "missing_index_entry")
	m.ModeSwitch("a")
	m.ObserveFetch("a", "procedural", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues("a", "capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tileErrors.WithLabelValues("b", "missing_index_entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modeSwitches.WithLabelValues("a")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit("a")
		m.CacheMiss("a")
		m.Eviction("a", "clear")
		m.TileError("a", "x")
		m.ModeSwitch("a")
		m.ObserveFetch("a", "precomputed", time.Second)
	})
}

func TestIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
