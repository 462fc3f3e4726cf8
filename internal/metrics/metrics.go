package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the router's collectors. Each instance owns its registry so
// tests can build several routers in one process.
type Metrics struct {
	Registry       *prometheus.Registry
	Connections    prometheus.Gauge
	Events         *prometheus.CounterVec
	Fanout         *prometheus.CounterVec
	DroppedClients prometheus.Counter
	StoreErrors    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomtalk_ws_connections",
			Help: "Active websocket connections",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomtalk_ws_events_total",
			Help: "Inbound client events by type",
		}, []string{"type"}),
		Fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomtalk_ws_fanout_total",
			Help: "Outbound event deliveries by type",
		}, []string{"type"}),
		DroppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomtalk_ws_dropped_clients_total",
			Help: "Connections dropped because their send buffer was full",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomtalk_store_errors_total",
			Help: "Store failures by operation",
		}, []string{"op"}),
	}
	m.Registry.MustRegister(
		m.Connections, m.Events, m.Fanout, m.DroppedClients, m.StoreErrors,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
