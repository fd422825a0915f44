package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fontdex_enrichment_jobs_total",
		Help: "Enrichment jobs processed, by outcome",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fontdex_enrichment_job_seconds",
		Help:    "Wall time spent per enrichment job",
		Buckets: prometheus.DefBuckets,
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fontdex_queue_jobs",
		Help: "Enrichment queue depth, by status",
	}, []string{"status"})

	stalledJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fontdex_queue_stalled_jobs",
		Help: "Processing jobs whose claim exceeds the stall threshold",
	})
)
