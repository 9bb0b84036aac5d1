// Package middleware contains the Gin middleware shared by the REST API and
// the websocket upgrade route.
//
// This file records Prometheus HTTP metrics under the dm_http_ prefix. The
// path label is the registered route (/api/v1/messages/:peer), never the raw
// URL, so usernames and media locators do not blow up label cardinality.
// Unmatched requests are grouped under a single "unmatched" path.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dm_http_request_duration_seconds",
		Help:    "HTTP request latency. Websocket upgrades are excluded.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	// Buckets span JSON pages up to media downloads.
	httpResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dm_http_response_size_bytes",
		Help:    "HTTP response body size.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{"method", "path"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInflight, httpResponseSize)
}

// Metrics instruments every request. Mount /metrics with promhttp.Handler.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		status := c.Writer.Status()
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

		// A hijacked upgrade lives as long as the socket does.
		if status == http.StatusSwitchingProtocols {
			return
		}
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			httpResponseSize.WithLabelValues(method, route).Observe(float64(n))
		}
	}
}
