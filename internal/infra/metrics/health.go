package metrics

import (
	"ai-request-queue/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(queueDepth, healthScore) }

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "request_queue_depth",
			Help: "Records per queue directory; -1 when the directory could not be listed.",
		},
		[]string{"state"},
	)

	healthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "request_queue_health_score",
			Help: "Health score between 0 and 100.",
		},
	)
)

func SetHealth(s *model.HealthSnapshot) {
	if s == nil {
		return
	}
	for _, st := range model.AllStates {
		queueDepth.WithLabelValues(string(st)).Set(float64(s.QueueCounts.Get(st)))
	}
	healthScore.Set(float64(s.HealthScore))
}
