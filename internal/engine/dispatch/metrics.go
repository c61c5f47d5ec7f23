package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	laneDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "music_lane_queue_depth",
			Help: "Jobs waiting in a lane queue",
		},
		[]string{"lane"},
	)

	laneJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "music_lane_jobs_total",
			Help: "Jobs taken from a lane by outcome",
		},
		[]string{"lane", "outcome"}, // "ok", "failed", "panic"
	)

	laneJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "music_lane_job_duration_seconds",
			Help:    "Wall time of one job from dequeue to finish",
			Buckets: []float64{1, 2.5, 5, 10, 15, 30, 45, 60, 120, 300},
		},
		[]string{"lane"},
	)

	laneBusyWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "music_lane_busy_workers",
			Help: "Workers currently processing a job",
		},
		[]string{"lane"},
	)
)
