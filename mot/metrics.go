package mot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors of the frame pipeline.
// Nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	activeTracks      prometheus.Gauge
	tracksTotal       *prometheus.CounterVec
	skippedDetections *prometheus.CounterVec
	weaponDetections  *prometheus.CounterVec
	alertTriggers     *prometheus.CounterVec
	notifyFailures    prometheus.Counter
	identityChecks    *prometheus.CounterVec
	sinkErrors        prometheus.Counter
	frameLatency      prometheus.Histogram
}

// NewMetrics creates collectors registered in a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		activeTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mot_active_tracks",
			Help: "Number of tracks held by registry",
		}),
		tracksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mot_tracks_total",
			Help: "Track lifecycle transitions",
		}, []string{"transition"}),
		skippedDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mot_detections_skipped_total",
			Help: "Detections dropped before processing",
		}, []string{"reason"}),
		weaponDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mot_weapon_detections_total",
			Help: "Weapon detections per label",
		}, []string{"label"}),
		alertTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mot_alert_triggers_total",
			Help: "Alert gate trigger attempts",
		}, []string{"outcome"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mot_alert_notify_failures_total",
			Help: "Failed alert notifications",
		}),
		identityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mot_identity_checks_total",
			Help: "Face identity checks per result",
		}, []string{"result"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mot_audit_sink_errors_total",
			Help: "Audit events which could not be delivered",
		}),
		frameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mot_frame_processing_seconds",
			Help:    "Time spent processing a single frame",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}
	registry.MustRegister(
		m.activeTracks,
		m.tracksTotal,
		m.skippedDetections,
		m.weaponDetections,
		m.alertTriggers,
		m.notifyFailures,
		m.identityChecks,
		m.sinkErrors,
		m.frameLatency,
	)
	return m
}

// Registry returns underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) setActiveTracks(n int) {
	if m == nil {
		return
	}
	m.activeTracks.Set(float64(n))
}

func (m *Metrics) trackTransition(transition string) {
	if m == nil {
		return
	}
	m.tracksTotal.WithLabelValues(transition).Inc()
}

func (m *Metrics) skipDetection(reason string) {
	if m == nil {
		return
	}
	m.skippedDetections.WithLabelValues(reason).Inc()
}

func (m *Metrics) weaponDetected(label string) {
	if m == nil {
		return
	}
	m.weaponDetections.WithLabelValues(label).Inc()
}

func (m *Metrics) alertTrigger(outcome string) {
	if m == nil {
		return
	}
	m.alertTriggers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) notifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) identityCheck(result string) {
	if m == nil {
		return
	}
	m.identityChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) sinkFailed() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) observeFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.frameLatency.Observe(d.Seconds())
}
