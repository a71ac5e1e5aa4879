// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiosk_hub_connections",
			Help: "Current number of registered observer connections per scope",
		},
		[]string{"scope"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_hub_broadcasts_total",
			Help: "Events broadcast per scope and event type",
		},
		[]string{"scope", "type"},
	)

	DroppedConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_hub_dropped_connections_total",
			Help: "Connections removed because a delivery to them failed",
		},
		[]string{"scope"},
	)

	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_orchestrator_operations_total",
			Help: "Orchestrator operations by name and outcome kind",
		},
		[]string{"operation", "result"},
	)

	ResultJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_result_jobs_total",
			Help: "Session result jobs processed by the worker",
		},
		[]string{"status"},
	)
)

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
