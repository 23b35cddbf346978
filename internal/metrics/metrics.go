// Package metrics exposes session counters as prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "avcom"

type Metrics struct {
	datagramsWritten  *prometheus.CounterVec
	datagramsRead     *prometheus.CounterVec
	errors            *prometheus.CounterVec
	skipped           *prometheus.CounterVec
	tracesDiscarded   *prometheus.CounterVec
	tracesDelivered   prometheus.Counter
	tracePoints       prometheus.Gauge
	subResponseTime   prometheus.Histogram
	state             *prometheus.GaugeVec
	listenersDetached prometheus.Counter
	frameDesyncs      prometheus.Counter
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		datagramsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_written_total",
			Help:      "Datagrams written to the analyzer.",
		}, []string{"type"}),
		datagramsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_read_total",
			Help:      "Datagrams decoded from the analyzer.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Device, transport and protocol errors seen by the session.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sub_requests_skipped_total",
			Help:      "Sub-requests that produced no usable waveform.",
		}, []string{"reason"}),
		tracesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_discarded_total",
			Help:      "Partially assembled traces thrown away.",
		}, []string{"reason"}),
		tracesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_delivered_total",
			Help:      "Completed sweeps handed to listeners.",
		}),
		tracePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trace_points",
			Help:      "Distinct frequencies in the last delivered trace.",
		}),
		subResponseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sub_response_seconds",
			Help:      "Time from waveform request to waveform response.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		listenersDetached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listeners_detached_total",
			Help:      "Trace listeners detached for not keeping up.",
		}),
		frameDesyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_desyncs_total",
			Help:      "Frames dropped by the reader after losing sync.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.datagramsWritten,
		m.datagramsRead,
		m.errors,
		m.skipped,
		m.tracesDiscarded,
		m.tracesDelivered,
		m.tracePoints,
		m.subResponseTime,
		m.state,
		m.listenersDetached,
		m.frameDesyncs,
	}
}

// Handler serves the collectors registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) DatagramWritten(kind string) {
	if m == nil {
		return
	}
	m.datagramsWritten.WithLabelValues(kind).Inc()
}

func (m *Metrics) DatagramRead(kind string) {
	if m == nil {
		return
	}
	m.datagramsRead.WithLabelValues(kind).Inc()
}

// Error counts one failure of kind "device", "transport" or "protocol".
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubRequestSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) TraceDiscarded(reason string) {
	if m == nil {
		return
	}
	m.tracesDiscarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) TraceDelivered(points int) {
	if m == nil {
		return
	}
	m.tracesDelivered.Inc()
	m.tracePoints.Set(float64(points))
}

func (m *Metrics) SubResponse(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.subResponseTime.Observe(elapsed.Seconds())
}

// SetState marks current as the active state among all.
func (m *Metrics) SetState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.state.WithLabelValues(s).Set(0)
	}
	m.state.WithLabelValues(current).Set(1)
}

func (m *Metrics) ListenerDetached() {
	if m == nil {
		return
	}
	m.listenersDetached.Inc()
}

func (m *Metrics) FrameDesyncs(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.frameDesyncs.Add(float64(n))
}
