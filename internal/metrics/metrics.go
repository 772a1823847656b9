package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Capture counters
	FramesRead       atomic.Uint64
	FrameReadErrors  atomic.Uint64
	Reconnects       atomic.Uint64
	StuckReads       atomic.Uint64
	TerminalFailures atomic.Uint64

	// Inference counters
	InferenceRuns   atomic.Uint64
	InferenceErrors atomic.Uint64
	ObjectsDetected atomic.Uint64

	// Alert counters
	NotificationsSent       atomic.Uint64
	NotificationsSuppressed atomic.Uint64
	NotificationErrors      atomic.Uint64

	// Event persistence counters
	EventsLogged   atomic.Uint64
	EventLogErrors atomic.Uint64
	SnapshotsSaved atomic.Uint64
	SnapshotErrors atomic.Uint64

	// Frame distribution counters
	FramesPublished atomic.Uint64
	FramesDropped   atomic.Uint64

	// Session lifecycle counters
	SessionRestarts atomic.Uint64
	RestartFailures atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Average inference latency in ms

	// Session state (0=stopped, 1=running, 2=failed)
	SessionState atomic.Int64

	mu           sync.RWMutex
	heartbeatAge func() float64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Capture metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_frames_read_total",
			Help: "Total frames read from the capture source",
		},
		func() float64 { return float64(m.FramesRead.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_frame_read_errors_total",
			Help: "Total frame read failures",
		},
		func() float64 { return float64(m.FrameReadErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_reconnects_total",
			Help: "Total successful capture reconnects",
		},
		func() float64 { return float64(m.Reconnects.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_stuck_reads_total",
			Help: "Total reads discarded for exceeding the stuck threshold",
		},
		func() float64 { return float64(m.StuckReads.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_terminal_failures_total",
			Help: "Total capture failures that exhausted all reconnect attempts",
		},
		func() float64 { return float64(m.TerminalFailures.Load()) },
	))

	// Inference metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_inference_runs_total",
			Help: "Total inference calls completed",
		},
		func() float64 { return float64(m.InferenceRuns.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_inference_errors_total",
			Help: "Total inference calls that failed",
		},
		func() float64 { return float64(m.InferenceErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_objects_detected_total",
			Help: "Total objects reported above the confidence threshold",
		},
		func() float64 { return float64(m.ObjectsDetected.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_inference_latency_ms",
			Help: "Average inference latency in milliseconds",
		},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))

	// Alert metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_notifications_sent_total",
			Help: "Total notifications delivered",
		},
		func() float64 { return float64(m.NotificationsSent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_notifications_suppressed_total",
			Help: "Total notifications suppressed by the per-class cooldown",
		},
		func() float64 { return float64(m.NotificationsSuppressed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_notification_errors_total",
			Help: "Total notification delivery failures",
		},
		func() float64 { return float64(m.NotificationErrors.Load()) },
	))

	// Event persistence metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_events_logged_total",
			Help: "Total detection events persisted",
		},
		func() float64 { return float64(m.EventsLogged.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_event_log_errors_total",
			Help: "Total detection event persistence failures",
		},
		func() float64 { return float64(m.EventLogErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_snapshots_saved_total",
			Help: "Total annotated snapshots uploaded",
		},
		func() float64 { return float64(m.SnapshotsSaved.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_snapshot_errors_total",
			Help: "Total snapshot upload failures",
		},
		func() float64 { return float64(m.SnapshotErrors.Load()) },
	))

	// Frame distribution metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_frames_published_total",
			Help: "Total annotated frames published to the stream slot",
		},
		func() float64 { return float64(m.FramesPublished.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_frames_dropped_total",
			Help: "Total published frames overwritten before any consumer read them",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	// Session lifecycle metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_session_restarts_total",
			Help: "Total automatic session restarts by the heartbeat monitor",
		},
		func() float64 { return float64(m.SessionRestarts.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_restart_failures_total",
			Help: "Total automatic restarts that failed",
		},
		func() float64 { return float64(m.RestartFailures.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_session_state",
			Help: "Session state (0=stopped, 1=running, 2=failed)",
		},
		func() float64 { return float64(m.SessionState.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_heartbeat_age_seconds",
			Help: "Seconds since the session heartbeat was last stamped",
		},
		func() float64 {
			m.mu.RLock()
			f := m.heartbeatAge
			m.mu.RUnlock()
			if f == nil {
				return 0
			}
			return f()
		},
	))
}

// UpdateInferenceLatency folds one measurement into the running average
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	cur := uint64(d.Milliseconds())
	prev := m.InferenceLatencyMs.Load()
	if prev == 0 {
		m.InferenceLatencyMs.Store(cur)
		return
	}
	m.InferenceLatencyMs.Store((prev*9 + cur) / 10)
}

// SetHeartbeatAgeFunc installs the callback sampled at scrape time
func (m *Metrics) SetHeartbeatAgeFunc(f func() float64) {
	m.mu.Lock()
	m.heartbeatAge = f
	m.mu.Unlock()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
