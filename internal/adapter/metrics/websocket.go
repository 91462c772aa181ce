package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for realtime ranking subscribers.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesPublished *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of connected ranking subscribers.",
		}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of ranking updates published, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesPublished)
	return m
}

func (m *WebSocketMetrics) Connected()    { m.ActiveConnections.Inc() }
func (m *WebSocketMetrics) Disconnected() { m.ActiveConnections.Dec() }

func (m *WebSocketMetrics) Published(err error) {
	if err != nil {
		m.MessagesPublished.WithLabelValues("error").Inc()
		return
	}
	m.MessagesPublished.WithLabelValues("ok").Inc()
}
