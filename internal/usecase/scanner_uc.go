package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/policy"
	"ai-request-queue/internal/domain/ports/adapter"
	"ai-request-queue/internal/domain/ports/repository"
	"ai-request-queue/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ScannerUseCase = (*scannerUC)(nil)

// AgeSource selects where a record's processing age comes from.
type AgeSource string

const (
	AgeFromModTime AgeSource = "mtime"
	// AgeFromRecord prefers movedToProcessingAt and falls back to mtime.
	AgeFromRecord AgeSource = "record"
)

// ScanLocker serializes scans across scanner instances sharing one queue.
type ScanLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type ScannerUseCase interface {
	// Scan evaluates every processing record once and applies the decisions.
	// It returns domain.ErrLockHeld when another instance owns the scan lock.
	Scan(ctx context.Context) (*model.ScanReport, error)
	// DryRun evaluates without moving anything or touching the stats.
	DryRun(ctx context.Context) (*model.ScanReport, error)
	// ForceCleanupAll moves every processing record to failed unconditionally.
	ForceCleanupAll(ctx context.Context) (model.ForceCleanupResult, error)
	Stats() model.CleanupStats
}

type ScannerOptions struct {
	AgeSource AgeSource
	Locker    ScanLocker
	LockKey   string
	LockTTL   time.Duration
	Now       func() time.Time
	// Sink, when set, receives every applied transition.
	Sink adapter.TransitionSink
}

type scannerUC struct {
	store      repository.QueueStore
	policy     *policy.TimeoutPolicy
	classifier *policy.Classifier
	opts       ScannerOptions

	// One scan runs to completion before the next begins.
	scanMu sync.Mutex

	statsMu sync.RWMutex
	stats   model.CleanupStats

	log *zerolog.Logger
}

func NewScannerUseCase(store repository.QueueStore, p *policy.TimeoutPolicy, c *policy.Classifier, opts ScannerOptions, logger *zerolog.Logger) *scannerUC {
	if opts.AgeSource == "" {
		opts.AgeSource = AgeFromModTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockKey == "" {
		opts.LockKey = "request-queue:scan"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	l := logger.With().Str("component", "Scanner").Logger()
	return &scannerUC{
		store:      store,
		policy:     p,
		classifier: c,
		opts:       opts,
		log:        &l,
	}
}

func (s *scannerUC) Scan(ctx context.Context) (*model.ScanReport, error) {
	defer logging.TraceDuration(s.log, "ScannerUC.Scan")()
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := s.run(ctx, true)

	s.statsMu.Lock()
	s.stats.TotalScans++
	s.stats.RecoveredRequests += int64(report.Recovered)
	s.stats.FailedRequests += int64(report.Failed)
	s.stats.CleanedUpRequests += int64(report.Transitions())
	s.stats.LastScanTime = report.StartedAt
	s.statsMu.Unlock()

	if report.Transitions() > 0 || report.Errors > 0 {
		s.log.Info().
			Int("scanned", report.Scanned).
			Int("recovered", report.Recovered).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Int("errors", report.Errors).
			Dur("duration", report.Duration).
			Msg("scan finished")
	}
	return report, nil
}

func (s *scannerUC) DryRun(ctx context.Context) (*model.ScanReport, error) {
	defer logging.TraceDuration(s.log, "ScannerUC.DryRun")()
	return s.run(ctx, false), nil
}

func (s *scannerUC) Stats() model.CleanupStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *scannerUC) acquire(ctx context.Context) (func(), error) {
	if s.opts.Locker == nil {
		return func() {}, nil
	}
	token, err := s.opts.Locker.TryLock(ctx, s.opts.LockKey, s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		// Lock backend down: scanning without it is still safe, renames arbitrate.
		s.log.Warn().Err(err).Msg("scan lock unavailable; scanning without it")
		return func() {}, nil
	}
	return func() {
		if err := s.opts.Locker.Unlock(context.Background(), s.opts.LockKey, token); err != nil {
			s.log.Warn().Err(err).Msg("scan lock release failed")
		}
	}, nil
}

func (s *scannerUC) run(ctx context.Context, apply bool) *model.ScanReport {
	now := s.opts.Now()
	start := time.Now()
	report := &model.ScanReport{StartedAt: now}
	defer func() { report.Duration = time.Since(start) }()

	entries, err := s.store.List(ctx, model.StateProcessing)
	if err != nil {
		s.log.Warn().Err(err).Msg("processing directory unavailable; skipping scan")
		report.Degraded = true
		return report
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			// Remaining records are picked up next cycle.
			break
		}
		d, ok := s.evaluate(ctx, e, now)
		if !ok {
			// Gone between listing and reading.
			report.Skipped++
			continue
		}
		report.Scanned++
		report.Decisions = append(report.Decisions, d)

		if d.Action == model.ActionKeep {
			report.Kept++
			continue
		}
		if !apply {
			continue
		}
		s.apply(ctx, e, d, report, now)
	}
	return report
}

// evaluate reports false when the record no longer exists.
func (s *scannerUC) evaluate(ctx context.Context, e model.Entry, now time.Time) (model.Decision, bool) {
	var rec *model.Record
	data, err := s.store.Read(ctx, model.StateProcessing, e.ID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Debug().Str("id", e.ID).Msg("record left processing before evaluation")
		return model.Decision{}, false
	}
	if err == nil {
		rec, err = model.DecodeRecord(data)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("id", e.ID).Str("file", e.FileName()).
			Msg("unreadable record; evaluating with default category")
	}

	category := s.classifier.ClassifyRecord(rec)
	age := now.Sub(s.startedAt(e, rec))
	if age < 0 {
		age = 0
	}
	action, reason := s.policy.Decide(age, category)
	return model.Decision{
		ID:         e.ID,
		Action:     action,
		Reason:     reason,
		AgeMinutes: age.Minutes(),
		Category:   category,
	}, true
}

func (s *scannerUC) startedAt(e model.Entry, rec *model.Record) time.Time {
	if s.opts.AgeSource == AgeFromRecord && rec != nil && rec.MovedToProcessingAt != nil && !rec.MovedToProcessingAt.IsZero() {
		return rec.MovedToProcessingAt.Time
	}
	return e.ModTime
}

func (s *scannerUC) apply(ctx context.Context, e model.Entry, d model.Decision, report *model.ScanReport, now time.Time) {
	target := model.StateFailed
	recovering := d.Action == model.ActionRecover
	if recovering {
		target = model.StateInput
		// Reset the age before the rename, which carries the mtime along.
		if err := s.store.Touch(ctx, model.StateProcessing, d.ID, now); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				report.Skipped++
				s.log.Debug().Str("id", d.ID).Msg("record already moved by another agent")
				return
			}
			s.log.Warn().Err(err).Str("id", d.ID).Msg("could not reset age of recovered record")
		}
	}

	err := s.store.Move(ctx, d.ID, model.StateProcessing, target)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		report.Skipped++
		s.log.Debug().Str("id", d.ID).Str("action", string(d.Action)).Msg("record already moved by another agent")
		return
	case err != nil:
		if recovering {
			// Still in processing; keep judging it by its real age.
			_ = s.store.Touch(ctx, model.StateProcessing, d.ID, e.ModTime)
		}
		report.Errors++
		s.log.Error().Err(err).
			Str("action", string(d.Action)).
			Str("id", d.ID).
			Str("file", d.ID+".json").
			Str("category", string(d.Category)).
			Float64("age_minutes", d.AgeMinutes).
			Str("reason", d.Reason).
			Msg("stuck request move failed")
		return
	}

	if recovering {
		report.Recovered++
	} else {
		report.Failed++
	}

	s.log.Info().
		Str("action", string(d.Action)).
		Str("id", d.ID).
		Str("file", d.ID+".json").
		Str("category", string(d.Category)).
		Float64("age_minutes", d.AgeMinutes).
		Str("reason", d.Reason).
		Msg("stuck request handled")

	cause := model.CauseFail
	if recovering {
		cause = model.CauseRecover
	}
	emit(ctx, s.opts.Sink, s.log, model.TransitionEvent{
		ID:         d.ID,
		From:       model.StateProcessing,
		To:         target,
		Cause:      cause,
		Reason:     d.Reason,
		Category:   d.Category,
		AgeMinutes: d.AgeMinutes,
		At:         now,
	})
}

func (s *scannerUC) ForceCleanupAll(ctx context.Context) (model.ForceCleanupResult, error) {
	defer logging.TraceDuration(s.log, "ScannerUC.ForceCleanupAll")()
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var res model.ForceCleanupResult
	entries, err := s.store.List(ctx, model.StateProcessing)
	if err != nil {
		s.log.Error().Err(err).Msg("force cleanup: processing directory unavailable")
		return res, err
	}

	now := s.opts.Now()
	s.log.Warn().Int("records", len(entries)).Msg("force cleanup started")
	for _, e := range entries {
		err := s.store.Move(ctx, e.ID, model.StateProcessing, model.StateFailed)
		switch {
		case err == nil:
			res.Moved++
			emit(ctx, s.opts.Sink, s.log, model.TransitionEvent{
				ID:         e.ID,
				From:       model.StateProcessing,
				To:         model.StateFailed,
				Cause:      model.CauseForceCleanup,
				Reason:     "administrative force cleanup",
				AgeMinutes: now.Sub(e.ModTime).Minutes(),
				At:         now,
			})
		case errors.Is(err, domain.ErrNotFound):
			s.log.Debug().Str("id", e.ID).Msg("record already moved by another agent")
		default:
			res.Errors++
			s.log.Error().Err(err).Str("id", e.ID).Str("file", e.FileName()).Msg("force cleanup move failed")
		}
	}

	s.statsMu.Lock()
	s.stats.FailedRequests += int64(res.Moved)
	s.stats.CleanedUpRequests += int64(res.Moved)
	s.statsMu.Unlock()

	s.log.Warn().Int("moved", res.Moved).Int("errors", res.Errors).Msg("force cleanup finished")
	return res, nil
}
