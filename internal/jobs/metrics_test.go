package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("roles_dedupe").End(nil))
	cause := errors.New("boom")
	require.ErrorIs(t, m.Track("roles_dedupe").End(cause), cause)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("roles_dedupe", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("roles_dedupe", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("roles_dedupe")))
}

func TestAddOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddOutcome("recurring_post", "posted", 3)
	m.AddOutcome("recurring_post", "posted", 0)
	m.AddOutcome("recurring_post", "already_posted", 2)
	require.Equal(t, 3.0, testutil.ToFloat64(m.outcomes.WithLabelValues("recurring_post", "posted")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("recurring_post", "already_posted")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddOutcome("x", "y", 1)
	require.NoError(t, m.Track("x").End(nil))
}
