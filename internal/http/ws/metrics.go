package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_ws_connections",
		Help: "Open websocket connections, identified or not.",
	})
	inboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_ws_inbound_events_total",
		Help: "Client frames received, by type and outcome.",
	}, []string{"type", "result"})
)

func init() {
	prometheus.MustRegister(connections, inboundEvents)
}
