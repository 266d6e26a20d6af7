package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketchat"

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPDuration  *prometheus.HistogramVec
	Connections   prometheus.Gauge
	Broadcasts    *prometheus.CounterVec
	DroppedFrames prometheus.Counter
	MessagesSent  prometheus.Counter
	ChatsStarted  prometheus.Counter
	RateLimited   *prometheus.CounterVec
}

var httpBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Spend time by processing a route",
			Buckets:   httpBuckets,
		}, []string{"code", "method", "path"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open realtime connections on this instance",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "broadcasts_total",
			Help:      "Room broadcasts by event type",
		}, []string{"event"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a connection's send buffer was full",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages persisted",
		}),
		ChatsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "started_total",
			Help:      "startChat calls that succeeded, new or resumed",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "rate_limited_total",
			Help:      "Actions rejected by the rate limiter",
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{
		m.HTTPDuration, m.Connections, m.Broadcasts, m.DroppedFrames,
		m.MessagesSent, m.ChatsStarted, m.RateLimited,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) Broadcast(event string) {
	if m != nil {
		m.Broadcasts.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.DroppedFrames.Inc()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) ChatStarted() {
	if m != nil {
		m.ChatsStarted.Inc()
	}
}

func (m *Metrics) Limited(action string) {
	if m != nil {
		m.RateLimited.WithLabelValues(action).Inc()
	}
}
