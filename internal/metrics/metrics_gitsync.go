package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gitOperationFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_git_operation_failed_total",
			Help: "Total number of failed git operations",
		},
		[]string{"operation", "reason"},
	)

	gitOperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_git_operation_count_total",
			Help: "Total number of git operations",
		},
		[]string{"operation"},
	)

	gitOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reposync_git_operation_duration_seconds",
			Help:    "Git operation duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	// ProxyRegistrations tracks ssh proxy registrations that have not been released.
	ProxyRegistrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reposync_ssh_proxy_registrations",
			Help: "Number of live ssh proxy registrations",
		},
	)
)

func GitOperationSucceeded(op string, startTime time.Time) {
	gitOperationCount.WithLabelValues(op).Inc()
	gitOperationDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
}

func GitOperationFailed(op string, reason string) {
	gitOperationCount.WithLabelValues(op).Inc()
	gitOperationFailed.WithLabelValues(op, reason).Inc()
}
