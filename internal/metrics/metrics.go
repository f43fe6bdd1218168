package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts semantic events by name.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diskmirror_events_published_total",
		Help: "Semantic events published by the daemon.",
	}, []string{"event"})

	// ValidDevices tracks the number of valid devices in the registry.
	ValidDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diskmirror_devices",
		Help: "Devices currently valid in the registry.",
	})

	// JobsInFlight tracks the number of tracked in-flight jobs.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diskmirror_jobs_inflight",
		Help: "Device jobs currently in flight.",
	})

	// JobFailures counts failed jobs by action.
	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diskmirror_job_failures_total",
		Help: "Device jobs that finished unsuccessfully, by action.",
	}, []string{"action"})
)
