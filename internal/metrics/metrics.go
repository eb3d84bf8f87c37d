package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ClientsConnected   *prometheus.GaugeVec
	ConnectionsTotal   *prometheus.CounterVec
	MessagesBroadcast  prometheus.Counter
	DeliveriesDropped  *prometheus.CounterVec
	UpstreamEvents     prometheus.Counter
	UpstreamReconnects prometheus.Counter
	UpstreamState      *prometheus.GaugeVec
	ArchiveErrors      prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ClientsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_clients_connected",
			Help: "Number of currently connected clients",
		}, []string{"transport"}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total client connections accepted",
		}, []string{"transport"}),
		MessagesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_broadcast_total",
			Help: "Total messages handed to the hub",
		}),
		DeliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_dropped_total",
			Help: "Messages not delivered to a subscriber because its queue was full",
		}, []string{"policy"}),
		UpstreamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_events_total",
			Help: "Total events received from the upstream subscription",
		}),
		UpstreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_reconnects_total",
			Help: "Total upstream re-subscription attempts",
		}),
		UpstreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_upstream_state",
			Help: "1 for the current upstream subscription state",
		}, []string{"state"}),
		ArchiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_archive_errors_total",
			Help: "Relayed messages that could not be archived",
		}),
	}

	registry.MustRegister(
		m.ClientsConnected,
		m.ConnectionsTotal,
		m.MessagesBroadcast,
		m.DeliveriesDropped,
		m.UpstreamEvents,
		m.UpstreamReconnects,
		m.UpstreamState,
		m.ArchiveErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// SetUpstreamState marks state as the only active upstream state
func (m *Metrics) SetUpstreamState(state string) {
	if m == nil {
		return
	}
	m.UpstreamState.Reset()
	m.UpstreamState.WithLabelValues(state).Set(1)
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
