// Package metrics provides operational metrics for the overlay network
// core as Prometheus collectors. Each Metrics instance owns its own
// registry so tests and embedded routers never collide on the global
// default registry. Path-build, link-session, flow, and DHT-level
// metrics are tracked for observability and monitoring.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all collectors for the overlay core, registered on a
// private registry exposed via Registry().
type Metrics struct {
	registry *prometheus.Registry

	// Path-build metrics (pkg/path)
	PathBuilds       prometheus.Counter
	PathBuildSuccess prometheus.Counter
	PathBuildFailure prometheus.Counter
	PathBuildTime    prometheus.Histogram
	ActivePaths      prometheus.Gauge

	// Link-session metrics (pkg/iwp)
	LinkSessionAttempts prometheus.Counter
	LinkSessionSuccess  prometheus.Counter
	LinkSessionFailures prometheus.Counter
	LinkSessionRetries  prometheus.Counter
	HandshakeTime       prometheus.Histogram
	ActiveLinkSessions  prometheus.Gauge

	// Flow metrics (pkg/flow)
	FlowsEstablished prometheus.Counter
	FlowsClosed      prometheus.Counter
	FlowFailures     prometheus.Counter
	ActiveFlows      prometheus.Gauge
	FlowData         prometheus.Counter // bytes transferred end-to-end

	// Introduction-point metrics
	IntroductionPointsActive    prometheus.Gauge
	IntroductionPointsConfirmed prometheus.Gauge

	// Introset publish/lookup metrics (pkg/flow DHT operations)
	IntrosetPublishes       prometheus.Counter
	IntrosetPublishFailures prometheus.Counter
	IntrosetLookups         prometheus.Counter
	IntrosetLookupFailures  prometheus.Counter

	// Link-layer fragment/retransmit metrics (pkg/iwp)
	FragmentsSent          prometheus.Counter
	FragmentRetransmits    prometheus.Counter
	FragmentHashMismatches prometheus.Counter
	ACKSSent               prometheus.Counter

	// System metrics
	Uptime      prometheus.Gauge
	startTime   time.Time
	startTimeMu sync.RWMutex
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llarp",
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llarp",
		Name:      name,
		Help:      help,
	})
}

func histogram(name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "llarp",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

// New creates a metrics instance with all collectors registered on a
// fresh private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PathBuilds:       counter("path_builds_total", "Total number of path build attempts"),
		PathBuildSuccess: counter("path_build_success_total", "Total number of successful path builds"),
		PathBuildFailure: counter("path_build_failures_total", "Total number of failed path builds"),
		PathBuildTime: histogram("path_build_duration_seconds", "Path build duration in seconds",
			[]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10}),
		ActivePaths: gauge("active_paths", "Current number of established paths"),

		LinkSessionAttempts: counter("link_session_attempts_total", "Total number of IWP handshake attempts"),
		LinkSessionSuccess:  counter("link_session_success_total", "Total number of successful link sessions"),
		LinkSessionFailures: counter("link_session_failures_total", "Total number of failed link sessions"),
		LinkSessionRetries:  counter("link_session_retries_total", "Total number of link session retries"),
		HandshakeTime: histogram("handshake_duration_seconds", "IWP handshake duration in seconds",
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}),
		ActiveLinkSessions: gauge("active_link_sessions", "Current number of established link sessions"),

		FlowsEstablished: counter("flows_established_total", "Total number of end-to-end flows established"),
		FlowsClosed:      counter("flows_closed_total", "Total number of flows closed"),
		FlowFailures:     counter("flow_failures_total", "Total number of failed flow establishments"),
		ActiveFlows:      gauge("active_flows", "Current number of active flows"),
		FlowData:         counter("flow_data_bytes_total", "Total bytes transferred through flows"),

		IntroductionPointsActive:    gauge("introduction_points_active", "Current number of active introduction points"),
		IntroductionPointsConfirmed: gauge("introduction_points_confirmed", "Current number of confirmed introduction points"),

		IntrosetPublishes:       counter("introset_publishes_total", "Total number of introset publishes"),
		IntrosetPublishFailures: counter("introset_publish_failures_total", "Total number of failed introset publishes"),
		IntrosetLookups:         counter("introset_lookups_total", "Total number of introset lookups"),
		IntrosetLookupFailures:  counter("introset_lookup_failures_total", "Total number of failed introset lookups"),

		FragmentsSent:          counter("fragments_sent_total", "Total number of link-layer fragments sent"),
		FragmentRetransmits:    counter("fragment_retransmits_total", "Total number of link-layer fragment retransmissions"),
		FragmentHashMismatches: counter("fragment_hash_mismatches_total", "Total number of reassembled messages dropped on hash mismatch"),
		ACKSSent:               counter("acks_sent_total", "Total number of ACKS frames sent"),

		Uptime:    gauge("uptime_seconds", "Router uptime in seconds"),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.PathBuilds, m.PathBuildSuccess, m.PathBuildFailure, m.PathBuildTime, m.ActivePaths,
		m.LinkSessionAttempts, m.LinkSessionSuccess, m.LinkSessionFailures, m.LinkSessionRetries,
		m.HandshakeTime, m.ActiveLinkSessions,
		m.FlowsEstablished, m.FlowsClosed, m.FlowFailures, m.ActiveFlows, m.FlowData,
		m.IntroductionPointsActive, m.IntroductionPointsConfirmed,
		m.IntrosetPublishes, m.IntrosetPublishFailures, m.IntrosetLookups, m.IntrosetLookupFailures,
		m.FragmentsSent, m.FragmentRetransmits, m.FragmentHashMismatches, m.ACKSSent,
		m.Uptime,
	)

	return m
}

// Registry returns the private registry holding all of this instance's
// collectors, for exposition via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPathBuild records a path build attempt and its duration.
func (m *Metrics) RecordPathBuild(success bool, duration time.Duration) {
	m.PathBuilds.Inc()
	if success {
		m.PathBuildSuccess.Inc()
	} else {
		m.PathBuildFailure.Inc()
	}
	m.PathBuildTime.Observe(duration.Seconds())
}

// RecordLinkSession records a link-session handshake attempt and its outcome.
func (m *Metrics) RecordLinkSession(success bool, retries int64) {
	m.LinkSessionAttempts.Inc()
	if success {
		m.LinkSessionSuccess.Inc()
	} else {
		m.LinkSessionFailures.Inc()
	}
	if retries > 0 {
		m.LinkSessionRetries.Add(float64(retries))
	}
}

// RecordHandshake records IWP handshake duration (Intro/IntroAck/SessionStart).
func (m *Metrics) RecordHandshake(duration time.Duration) {
	m.HandshakeTime.Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.startTimeMu.RLock()
	defer m.startTimeMu.RUnlock()
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// counterValue reads a counter's current value through its dto form.
func counterValue(c prometheus.Counter) int64 {
	var d dto.Metric
	if err := c.Write(&d); err != nil {
		return 0
	}
	return int64(d.GetCounter().GetValue())
}

func gaugeValue(g prometheus.Gauge) int64 {
	var d dto.Metric
	if err := g.Write(&d); err != nil {
		return 0
	}
	return int64(d.GetGauge().GetValue())
}

// histogramMean returns the mean observation of h as a duration, zero
// when nothing has been observed.
func histogramMean(h prometheus.Histogram) time.Duration {
	var d dto.Metric
	if err := h.Write(&d); err != nil {
		return 0
	}
	hist := d.GetHistogram()
	if hist.GetSampleCount() == 0 {
		return 0
	}
	mean := hist.GetSampleSum() / float64(hist.GetSampleCount())
	return time.Duration(mean * float64(time.Second))
}

// Snapshot returns a point-in-time snapshot of all metrics, used by the
// JSON exposition endpoint and the dashboard. Percentiles are left to
// the Prometheus server side; the snapshot carries counts and means.
func (m *Metrics) Snapshot() *Snapshot {
	m.UpdateUptime()
	return &Snapshot{
		PathBuilds:       counterValue(m.PathBuilds),
		PathBuildSuccess: counterValue(m.PathBuildSuccess),
		PathBuildFailure: counterValue(m.PathBuildFailure),
		PathBuildTimeAvg: histogramMean(m.PathBuildTime),
		ActivePaths:      gaugeValue(m.ActivePaths),

		LinkSessionAttempts: counterValue(m.LinkSessionAttempts),
		LinkSessionSuccess:  counterValue(m.LinkSessionSuccess),
		LinkSessionFailures: counterValue(m.LinkSessionFailures),
		LinkSessionRetries:  counterValue(m.LinkSessionRetries),
		HandshakeTimeAvg:    histogramMean(m.HandshakeTime),
		ActiveLinkSessions:  gaugeValue(m.ActiveLinkSessions),

		FlowsEstablished: counterValue(m.FlowsEstablished),
		FlowsClosed:      counterValue(m.FlowsClosed),
		FlowFailures:     counterValue(m.FlowFailures),
		ActiveFlows:      gaugeValue(m.ActiveFlows),
		FlowData:         counterValue(m.FlowData),

		IntroductionPointsActive:    gaugeValue(m.IntroductionPointsActive),
		IntroductionPointsConfirmed: gaugeValue(m.IntroductionPointsConfirmed),

		IntrosetPublishes:       counterValue(m.IntrosetPublishes),
		IntrosetPublishFailures: counterValue(m.IntrosetPublishFailures),
		IntrosetLookups:         counterValue(m.IntrosetLookups),
		IntrosetLookupFailures:  counterValue(m.IntrosetLookupFailures),

		FragmentsSent:          counterValue(m.FragmentsSent),
		FragmentRetransmits:    counterValue(m.FragmentRetransmits),
		FragmentHashMismatches: counterValue(m.FragmentHashMismatches),
		ACKSSent:               counterValue(m.ACKSSent),

		UptimeSeconds: gaugeValue(m.Uptime),
	}
}

// Snapshot is a point-in-time copy of all metric values.
type Snapshot struct {
	PathBuilds       int64         `json:"path_builds"`
	PathBuildSuccess int64         `json:"path_build_success"`
	PathBuildFailure int64         `json:"path_build_failure"`
	PathBuildTimeAvg time.Duration `json:"path_build_time_avg_ns"`
	ActivePaths      int64         `json:"active_paths"`

	LinkSessionAttempts int64         `json:"link_session_attempts"`
	LinkSessionSuccess  int64         `json:"link_session_success"`
	LinkSessionFailures int64         `json:"link_session_failures"`
	LinkSessionRetries  int64         `json:"link_session_retries"`
	HandshakeTimeAvg    time.Duration `json:"handshake_time_avg_ns"`
	ActiveLinkSessions  int64         `json:"active_link_sessions"`

	FlowsEstablished int64 `json:"flows_established"`
	FlowsClosed      int64 `json:"flows_closed"`
	FlowFailures     int64 `json:"flow_failures"`
	ActiveFlows      int64 `json:"active_flows"`
	FlowData         int64 `json:"flow_data_bytes"`

	IntroductionPointsActive    int64 `json:"introduction_points_active"`
	IntroductionPointsConfirmed int64 `json:"introduction_points_confirmed"`

	IntrosetPublishes       int64 `json:"introset_publishes"`
	IntrosetPublishFailures int64 `json:"introset_publish_failures"`
	IntrosetLookups         int64 `json:"introset_lookups"`
	IntrosetLookupFailures  int64 `json:"introset_lookup_failures"`

	FragmentsSent          int64 `json:"fragments_sent"`
	FragmentRetransmits    int64 `json:"fragment_retransmits"`
	FragmentHashMismatches int64 `json:"fragment_hash_mismatches"`
	ACKSSent               int64 `json:"acks_sent"`

	UptimeSeconds int64 `json:"uptime_seconds"`
}
