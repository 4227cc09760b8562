package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uasalt/elemlink/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionObserver exports session metrics to Prometheus.
type SessionObserver struct {
	dialTotal        *prometheus.CounterVec
	handshakeTotal   *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
	reconnectTotal   prometheus.Counter
	ready            prometheus.Gauge
	requestTotal     *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	queueDepth       prometheus.Gauge
	pending          prometheus.Gauge
	droppedTotal     *prometheus.CounterVec
}

// NewSessionObserver registers session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		dialTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elemlink_dial_total",
			Help: "WebSocket dial attempts by result.",
		}, []string{"result"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elemlink_handshake_total",
			Help: "Key exchange outcomes.",
		}, []string{"result"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "elemlink_handshake_latency_seconds",
			Help:    "Time from socket open to Ready.",
			Buckets: prometheus.DefBuckets,
		}),
		reconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elemlink_reconnect_total",
			Help: "Reconnect attempts after a closed or failed socket.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elemlink_session_ready",
			Help: "1 while the session can carry application frames.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elemlink_requests_total",
			Help: "Request outcomes.",
		}, []string{"result"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "elemlink_request_latency_seconds",
			Help:    "Latency from Send to response, including time spent queued.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elemlink_outbox_depth",
			Help: "Messages waiting for the session to become Ready.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elemlink_pending_requests",
			Help: "Requests awaiting a response.",
		}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elemlink_frames_dropped_total",
			Help: "Inbound frames discarded by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		o.dialTotal,
		o.handshakeTotal,
		o.handshakeLatency,
		o.reconnectTotal,
		o.ready,
		o.requestTotal,
		o.requestLatency,
		o.queueDepth,
		o.pending,
		o.droppedTotal,
	)
	return o
}

func (o *SessionObserver) Dial(result observability.DialResult) {
	o.dialTotal.WithLabelValues(string(result)).Inc()
}

func (o *SessionObserver) Handshake(result observability.HandshakeResult, d time.Duration) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
	if result == observability.HandshakeResultOK {
		o.handshakeLatency.Observe(d.Seconds())
	}
}

func (o *SessionObserver) Reconnect() {
	o.reconnectTotal.Inc()
}

func (o *SessionObserver) Ready(ready bool) {
	if ready {
		o.ready.Set(1)
		return
	}
	o.ready.Set(0)
}

func (o *SessionObserver) Request(result observability.RequestResult, d time.Duration) {
	o.requestTotal.WithLabelValues(string(result)).Inc()
	o.requestLatency.Observe(d.Seconds())
}

func (o *SessionObserver) QueueDepth(n int) {
	o.queueDepth.Set(float64(n))
}

func (o *SessionObserver) Pending(n int) {
	o.pending.Set(float64(n))
}

func (o *SessionObserver) FrameDropped(reason observability.DropReason) {
	o.droppedTotal.WithLabelValues(string(reason)).Inc()
}
