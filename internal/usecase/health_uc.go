package usecase

import (
	"context"
	"time"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ HealthUseCase = (*healthUC)(nil)

const (
	stuckPenalty       = 10
	inputBacklogFree   = 10
	inputBacklogWeight = 2
	failedFree         = 5
	failedWeight       = 5
)

// StatsProvider exposes the scanner's running counters.
type StatsProvider interface {
	Stats() model.CleanupStats
}

type HealthUseCase interface {
	Snapshot(ctx context.Context) *model.HealthSnapshot
}

type healthUC struct {
	store repository.QueueStore
	stats StatsProvider
	now   func() time.Time
	log   *zerolog.Logger
}

func NewHealthUseCase(store repository.QueueStore, stats StatsProvider, logger *zerolog.Logger) *healthUC {
	l := logger.With().Str("component", "HealthReporter").Logger()
	return &healthUC{store: store, stats: stats, now: time.Now, log: &l}
}

// Snapshot is read-only; a directory that cannot be counted reports -1.
func (h *healthUC) Snapshot(ctx context.Context) *model.HealthSnapshot {
	var counts model.QueueCounts
	for _, st := range model.AllStates {
		n, err := h.store.Count(ctx, st)
		if err != nil {
			h.log.Warn().Err(err).Str("state", string(st)).Msg("queue count unavailable")
			n = model.UnknownCount
		}
		counts.Set(st, n)
	}

	snap := &model.HealthSnapshot{
		QueueCounts: counts,
		HealthScore: HealthScore(counts),
		GeneratedAt: h.now(),
	}
	if h.stats != nil {
		snap.CleanupStats = h.stats.Stats()
	}
	snap.Status = StatusFor(snap.HealthScore)
	return snap
}

// HealthScore starts at 100 and subtracts stuck, backlog and failure
// pressure, clamped to [0, 100]. Unknown counts contribute nothing.
func HealthScore(c model.QueueCounts) int {
	score := 100
	score -= stuckPenalty * known(c.Processing)
	score -= inputBacklogWeight * over(known(c.Input), inputBacklogFree)
	score -= failedWeight * over(known(c.Failed), failedFree)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func StatusFor(score int) model.HealthStatus {
	switch {
	case score >= 80:
		return model.HealthHealthy
	case score >= 50:
		return model.HealthDegraded
	default:
		return model.HealthUnhealthy
	}
}

func known(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func over(n, free int) int {
	if n <= free {
		return 0
	}
	return n - free
}
