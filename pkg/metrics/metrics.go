package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_cycles_total",
			Help: "Scheduler fan-out runs, by outcome",
		},
		[]string{"outcome"}, // outcome: ok, failed
	)

	CampaignsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_scheduled_total",
			Help: "Campaign cycle messages published by the scheduler",
		},
	)

	ReservationSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allocator_reservation_size",
			Help:    "Number of accounts returned per reservation",
			Buckets: prometheus.LinearBuckets(0, 5, 11), // 0 to 50
		},
	)

	TasksPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_tasks_published_total",
			Help: "Engagement tasks published by the expander",
		},
		[]string{"action"},
	)

	TasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_tasks_executed_total",
			Help: "Engagement task executions, by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: success, failed, retried, dead_lettered
	)

	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Mailbox provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"operation", "status"},
	)

	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key"},
	)
)

func RecordProviderCall(operation, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

func RecordMQConsume(routingKey string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey).Observe(float64(duration.Milliseconds()))
}
