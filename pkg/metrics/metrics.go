package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveRooms tracks live rooms in the registry
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codecollab_active_rooms",
		Help: "Number of live collaborative rooms.",
	})

	// ActiveConnections tracks joined websocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codecollab_active_connections",
		Help: "Number of websocket connections currently joined to a room.",
	})

	// EventsTotal counts processed inbound events by name
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecollab_events_total",
		Help: "Inbound socket events processed, by event name.",
	}, []string{"event"})

	// ExecSeconds observes execution collaborator round-trip latency
	ExecSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codecollab_execution_seconds",
		Help:    "Remote code execution round-trip latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
