package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_transfers_total",
		Help: "Finished transfers by source platform and final status.",
	}, []string{"platform", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytrelay_transfer_duration_seconds",
		Help:    "Wall-clock time of finished transfers.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"platform"})

	bytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_transfer_bytes_total",
		Help: "Bytes downloaded from sources and uploaded to YouTube.",
	}, []string{"direction"})

	uploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytrelay_upload_chunk_failures_total",
		Help: "Upload chunks that failed after their retry budget.",
	})

	poolRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytrelay_transfer_pool_running",
		Help: "Transfers currently holding a worker slot.",
	})

	poolRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytrelay_transfer_pool_rejected_total",
		Help: "Transfers refused because the pool and its queue were full.",
	})
)
