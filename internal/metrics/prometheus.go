package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsRaised counts upserts by outcome (created, updated)
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lora_alerts_raised_total",
			Help: "Total number of alert upserts",
		},
		[]string{"scope", "issue", "outcome"},
	)

	// AlertsCleared counts alerts removed by hysteresis or operators
	AlertsCleared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lora_alerts_cleared_total",
			Help: "Total number of alerts cleared",
		},
		[]string{"scope", "issue"},
	)

	// EventsReceived counts inbound network-server events
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lora_events_received_total",
			Help: "Total number of network server events received",
		},
		[]string{"event", "status"},
	)

	// JobRuns counts periodic job executions
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lora_job_runs_total",
			Help: "Total number of periodic job runs",
		},
		[]string{"job", "status"},
	)

	// JobDuration tracks how long periodic jobs take
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lora_job_duration_seconds",
			Help:    "Periodic job duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"job"},
	)

	// EntityErrors counts per-entity failures inside a job run
	EntityErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lora_entity_evaluation_errors_total",
			Help: "Total number of per-entity evaluation failures",
		},
		[]string{"job"},
	)

	// Notifications counts notification deliveries by status
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lora_notifications_total",
			Help: "Total number of alert notifications",
		},
		[]string{"stage", "status"},
	)
)
