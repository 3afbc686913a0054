// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsProcessed counts pipeline runs by terminal status
	// (completed/failed).
	CallsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calls_processed_total",
			Help: "Total number of calls processed by the analysis pipeline.",
		},
		[]string{"status"},
	)

	// StageDuration tracks how long pipeline stages take.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of analysis pipeline stages.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// AlertsFired counts alert notifications dispatched, by alert type.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_fired_total",
			Help: "Total number of alerts fired.",
		},
		[]string{"type"},
	)

	// QueueMessages counts consumed queue messages by handling result
	// (processed/dropped/retried/requeue_failed).
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Total number of queue messages consumed.",
		},
		[]string{"result"},
	)
)
