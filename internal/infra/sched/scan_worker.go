package sched

import (
	"context"
	"errors"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/infra/metrics"
	"ai-request-queue/internal/usecase"

	"github.com/rs/zerolog"
)

// ScanWorker periodically runs the stuck-request scan via the use case.
type ScanWorker struct {
	interval    time.Duration
	scanOnStart bool
	scanner     usecase.ScannerUseCase
	afterScan   func()
	log         *zerolog.Logger
}

func NewScanWorker(interval time.Duration, scanOnStart bool, scanner usecase.ScannerUseCase, logger *zerolog.Logger) *ScanWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	compLog := logger.With().Str("component", "ScanWorker").Logger()
	return &ScanWorker{
		interval:    interval,
		scanOnStart: scanOnStart,
		scanner:     scanner,
		log:         &compLog,
	}
}

// AfterScan registers fn to run after every cycle that moved something.
func (w *ScanWorker) AfterScan(fn func()) *ScanWorker {
	w.afterScan = fn
	return w
}

func (w *ScanWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting scan worker")
	if w.scanOnStart {
		w.runScan(ctx)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping scan worker")
			return ctx.Err()
		case <-ticker.C:
			w.runScan(ctx)
		}
	}
}

func (w *ScanWorker) runScan(ctx context.Context) {
	report, err := w.scanner.Scan(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		metrics.IncScanRun("skipped_lock")
		w.log.Debug().Msg("scan lock held elsewhere; skipping cycle")
		return
	case err != nil:
		metrics.IncScanRun("error")
		w.log.Error().Err(err).Msg("scan failed")
		return
	}

	metrics.ObserveScan(report)
	if report.Transitions() > 0 {
		w.log.Info().
			Int("recovered", report.Recovered).
			Int("failed", report.Failed).
			Int("errors", report.Errors).
			Msg("stuck requests handled")
		if w.afterScan != nil {
			w.afterScan()
		}
	}
}
