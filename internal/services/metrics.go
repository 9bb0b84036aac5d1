package services

import "github.com/prometheus/client_golang/prometheus"

// Push outcomes recorded by the delivery router.
const (
	pushDelivered = "delivered"
	pushSlow      = "slow_consumer"
	pushClosed    = "closed"
	pushError     = "error"
)

var (
	// messagesSent counts persisted messages, regardless of push outcome.
	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_messages_sent_total",
		Help: "Total number of messages persisted.",
	})

	// pushes counts push attempts to live connections by outcome.
	pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_push_total",
		Help: "Push attempts to live connections by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(messagesSent, pushes)
}
