package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	repositorySyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_repository_sync_failed_total",
			Help: "Number of times a repository has failed to synchronize",
		},
		[]string{"repository", "state"},
	)

	repositorySyncCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reposync_repository_sync_count_total",
			Help: "Total number of repository synchronizations",
		},
	)

	repositorySyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reposync_repository_sync_duration_seconds",
			Help:    "Repository synchronization duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"repository"},
	)

	lastRepositorySyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reposync_last_repository_sync_end_timestamp",
			Help: "Unix timestamp of when the last repository synchronization ended",
		},
		[]string{"repository"},
	)
)

func RepositorySyncSucceeded(repository string, startTime time.Time) {
	repositorySyncCount.Inc()
	repositorySyncDuration.WithLabelValues(repository).Observe(time.Since(startTime).Seconds())
	lastRepositorySyncEnd.WithLabelValues(repository).SetToCurrentTime()
}

func RepositorySyncFailed(repository string, state string) {
	repositorySyncCount.Inc()
	repositorySyncFailed.WithLabelValues(repository, state).Inc()
	lastRepositorySyncEnd.WithLabelValues(repository).SetToCurrentTime()
}
