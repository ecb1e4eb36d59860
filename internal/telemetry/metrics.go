package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_transitions_total", Help: "Successful job status transitions by target status",
	}, []string{"status"})
	AcceptConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_accept_conflicts_total", Help: "Job acceptances lost to a concurrent worker",
	})
	JobsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_created_total", Help: "Jobs created",
	})
	EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_published_total", Help: "Events fanned out through the realtime hub",
	})
	LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections", Help: "Open authenticated websocket connections",
	})
	NotificationsQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_queued_total", Help: "Notifications pushed onto the delivery queue",
	})
	NotificationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total", Help: "Notifications dropped after exhausting delivery attempts",
	})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "api_rate_limit_rejects_total", Help: "Requests rejected by the per-actor rate limiter",
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsTotal,
			AcceptConflicts,
			JobsCreated,
			EventsPublished,
			LiveConnections,
			NotificationsQueued,
			NotificationsFailed,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
