// Package metrics provides Prometheus metrics for session setup and batch
// inference. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the inference metrics.
type Metrics struct {
	SetupTotal      *prometheus.CounterVec
	SetupDuration   prometheus.Histogram
	AdmittedGauge   prometheus.Gauge
	SkippedTotal    *prometheus.CounterVec
	PredictTotal    *prometheus.CounterVec
	PredictDuration prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	ImagesTotal     prometheus.Counter
	DecisionsTotal  *prometheus.CounterVec
	LockConflicts   prometheus.Counter
}

// New creates the metrics and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SetupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainrad_setup_total",
			Help: "Session setups partitioned by result.",
		}, []string{"result"}),
		SetupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainrad_setup_duration_seconds",
			Help:    "Time taken to load every model artifact.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		AdmittedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainrad_admitted_diseases",
			Help: "Number of diseases admitted into the session.",
		}),
		SkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainrad_skipped_diseases_total",
			Help: "Configured diseases left out of the session, partitioned by reason.",
		}, []string{"reason"}),
		PredictTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainrad_predict_total",
			Help: "Predict calls partitioned by result.",
		}, []string{"result"}),
		PredictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainrad_predict_duration_seconds",
			Help:    "Time taken by a predict call.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainrad_stage_duration_seconds",
			Help:    "Time taken by each predict stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		ImagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainrad_images_total",
			Help: "Images classified successfully.",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainrad_decisions_total",
			Help: "Decisions partitioned by disease and outcome.",
		}, []string{"disease", "decision"}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainrad_lock_conflicts_total",
			Help: "Attempts to lock a session that was already locked.",
		}),
	}

	collectors := []prometheus.Collector{
		m.SetupTotal, m.SetupDuration, m.AdmittedGauge, m.SkippedTotal,
		m.PredictTotal, m.PredictDuration, m.StageDuration, m.ImagesTotal,
		m.DecisionsTotal, m.LockConflicts,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveSetup records one setup attempt.
func (m *Metrics) ObserveSetup(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.SetupTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.SetupDuration.Observe(d.Seconds())
	}
}

// SetAdmitted records the size of the admitted set.
func (m *Metrics) SetAdmitted(n int) {
	if m == nil {
		return
	}
	m.AdmittedGauge.Set(float64(n))
}

// ObserveSkipped records one skipped disease.
func (m *Metrics) ObserveSkipped(reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.WithLabelValues(reason).Inc()
}

// ObservePredict records one predict call over images inputs.
func (m *Metrics) ObservePredict(err error, images int, d time.Duration) {
	if m == nil {
		return
	}
	m.PredictTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.PredictDuration.Observe(d.Seconds())
		m.ImagesTotal.Add(float64(images))
	}
}

// ObserveStage records the duration of one predict stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveDecision records one per-disease decision.
func (m *Metrics) ObserveDecision(disease string, decision int) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(disease, strconv.Itoa(decision)).Inc()
}

// ObserveLockConflict records a failed non-blocking lock.
func (m *Metrics) ObserveLockConflict() {
	if m == nil {
		return
	}
	m.LockConflicts.Inc()
}
