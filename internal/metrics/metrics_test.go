package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Event("modified")
	m.Finding("modified", "medium", "watch")
	m.Finding("modified", "medium", "watch")
	m.Throttled()
	m.Dispatched(true)
	m.Dispatched(false)
	m.Reconciled(120 * time.Millisecond)
	m.Baseline(10, 1)
	m.Gauges(2, 5)
	m.State("watching", []string{"idle", "watching"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.findingsTotal.WithLabelValues("modified", "medium", "watch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttledTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("failed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.baselineEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("watching")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("created")
		m.Finding("created", "low", "watch")
		m.Throttled()
		m.Dispatched(true)
		m.Reconciled(time.Second)
		m.Baseline(1, 0)
		m.Gauges(0, 0)
		m.State("idle", []string{"idle"})
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Throttled()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fimwatch_alerts_throttled_total 1")
}
