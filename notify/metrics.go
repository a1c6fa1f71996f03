package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_published_count",
			Help: "Total number of notification events published",
		},
		[]string{"type"},
	)

	publishFailedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_publish_failed_count",
			Help: "Total number of notification publish failures",
		},
		[]string{"type"},
	)
)
