package processor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Connections     prometheus.Gauge
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	PacketsDropped  prometheus.Counter
	HandlerPanics   prometheus.Counter
	HandlerDuration *prometheus.HistogramVec
}

// NewMetrics creates the processor metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labserver",
			Name:      "connections",
			Help:      "Currently open client connections.",
		}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labserver",
			Name:      "packets_received_total",
			Help:      "Inbound packets dispatched to a handler, by type.",
		}, []string{"type"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labserver",
			Name:      "packets_sent_total",
			Help:      "Outbound packets queued for a connection, by type.",
		}, []string{"type"}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labserver",
			Name:      "packets_dropped_total",
			Help:      "Inbound packets without a registered handler.",
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labserver",
			Name:      "handler_panics_total",
			Help:      "Handler invocations that panicked.",
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "labserver",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in packet handlers, by type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}

	reg.MustRegister(m.Connections, m.PacketsReceived, m.PacketsSent,
		m.PacketsDropped, m.HandlerPanics, m.HandlerDuration)
	return m
}
