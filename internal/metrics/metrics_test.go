package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservations(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveSetup(nil, time.Second)
	m.ObserveSetup(errors.New("boom"), time.Second)
	m.SetAdmitted(3)
	m.ObserveSkipped("artifact-missing")
	m.ObservePredict(nil, 4, time.Millisecond)
	m.ObservePredict(errors.New("boom"), 2, time.Millisecond)
	m.ObserveDecision("D1", 1)
	m.ObserveDecision("D1", 1)
	m.ObserveLockConflict()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SetupTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SetupTotal.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AdmittedGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedTotal.WithLabelValues("artifact-missing")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ImagesTotal), "failed batches are not counted")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("D1", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockConflicts))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSetup(nil, time.Second)
		m.SetAdmitted(1)
		m.ObserveSkipped("name-missing")
		m.ObservePredict(nil, 1, time.Second)
		m.ObserveStage("extract", time.Second)
		m.ObserveDecision("D1", 0)
		m.ObserveLockConflict()
	})
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
