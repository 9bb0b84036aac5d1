package presence

import "github.com/prometheus/client_golang/prometheus"

// onlineUsers mirrors Registry.Len for the process-wide registry.
var onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "dm_online_users",
	Help: "Number of users with a live push connection.",
})

func init() {
	prometheus.MustRegister(onlineUsers)
}
