package metrics

import (
	"ai-request-queue/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(scanDecisionsTotal, scanRunsTotal, scanDurationSeconds, scanErrorsTotal, forceCleanupTotal)
}

var (
	scanDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_queue_scan_decisions_total",
			Help: "Stuck-request decisions applied by the scanner.",
		},
		[]string{"action", "category"}, // action: 'recover', 'fail'
	)

	scanRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_queue_scan_runs_total",
			Help: "Scan cycles by outcome.",
		},
		[]string{"outcome"}, // 'ok', 'degraded', 'skipped_lock', 'error'
	)

	scanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "request_queue_scan_duration_seconds",
			Help:    "Scan cycle latency distribution.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	scanErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "request_queue_scan_move_errors_total",
			Help: "Per-record move failures during scans.",
		},
	)

	forceCleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_queue_force_cleanup_total",
			Help: "Records handled by force cleanup, by result.",
		},
		[]string{"result"}, // 'moved', 'error'
	)
)

// ObserveScan records a completed cycle. Dry runs are not reported.
func ObserveScan(r *model.ScanReport) {
	if r == nil {
		return
	}
	for _, d := range r.Decisions {
		if d.Action == model.ActionKeep {
			continue
		}
		scanDecisionsTotal.WithLabelValues(string(d.Action), norm(string(d.Category))).Inc()
	}
	outcome := "ok"
	if r.Degraded {
		outcome = "degraded"
	}
	scanRunsTotal.WithLabelValues(outcome).Inc()
	scanDurationSeconds.Observe(r.Duration.Seconds())
	if r.Errors > 0 {
		scanErrorsTotal.Add(float64(r.Errors))
	}
}

func IncScanRun(outcome string) {
	scanRunsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveForceCleanup(res model.ForceCleanupResult) {
	forceCleanupTotal.WithLabelValues("moved").Add(float64(res.Moved))
	forceCleanupTotal.WithLabelValues("error").Add(float64(res.Errors))
}
