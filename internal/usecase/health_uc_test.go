//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/infra/memqueue"
	"ai-request-queue/internal/usecase"
)

type stubStats struct{ s model.CleanupStats }

func (s stubStats) Stats() model.CleanupStats { return s.s }

func fill(s *memqueue.Store, state model.QueueState, n int) {
	for i := 0; i < n; i++ {
		s.Put(state, fmt.Sprintf("%s-%d", state, i), []byte(`{}`), fixedNow)
	}
}

func TestHealthUseCase_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue is fully healthy", func(t *testing.T) {
		h := usecase.NewHealthUseCase(memqueue.New(), nil, newTestLogger())
		snap := h.Snapshot(ctx)
		if snap.HealthScore != 100 || snap.Status != model.HealthHealthy {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("counts and penalties", func(t *testing.T) {
		store := memqueue.New()
		fill(store, model.StateInput, 12)     // 2 over backlog -> -4
		fill(store, model.StateProcessing, 2) // -20
		fill(store, model.StateOutput, 40)    // free
		fill(store, model.StateFailed, 7)     // 2 over -> -10
		stats := model.CleanupStats{TotalScans: 4, RecoveredRequests: 1, LastScanTime: fixedNow}

		h := usecase.NewHealthUseCase(store, stubStats{stats}, newTestLogger())
		snap := h.Snapshot(ctx)

		want := model.QueueCounts{Input: 12, Processing: 2, Output: 40, Failed: 7}
		if snap.QueueCounts != want {
			t.Fatalf("counts = %+v, want %+v", snap.QueueCounts, want)
		}
		if snap.HealthScore != 66 || snap.Status != model.HealthDegraded {
			t.Fatalf("score = %d (%s), want 66 degraded", snap.HealthScore, snap.Status)
		}
		if snap.CleanupStats != stats {
			t.Fatalf("stats not passed through: %+v", snap.CleanupStats)
		}
	})

	t.Run("unreadable directory reports -1 and no penalty", func(t *testing.T) {
		store := memqueue.New()
		store.ListErr[model.StateProcessing] = errors.New("eacces")
		h := usecase.NewHealthUseCase(store, nil, newTestLogger())
		snap := h.Snapshot(ctx)
		if snap.QueueCounts.Processing != model.UnknownCount {
			t.Fatalf("expected -1, got %d", snap.QueueCounts.Processing)
		}
		if snap.HealthScore != 100 {
			t.Fatalf("unknown count should not be penalized, got %d", snap.HealthScore)
		}
	})

	t.Run("snapshot has no side effects", func(t *testing.T) {
		store := memqueue.New()
		fill(store, model.StateProcessing, 3)
		h := usecase.NewHealthUseCase(store, nil, newTestLogger())
		_ = h.Snapshot(ctx)
		if n, _ := store.Count(ctx, model.StateProcessing); n != 3 {
			t.Fatalf("snapshot changed the queue")
		}
	})
}

func TestHealthScore_Properties(t *testing.T) {
	t.Run("clamped to zero", func(t *testing.T) {
		if got := usecase.HealthScore(model.QueueCounts{Processing: 50, Input: 100, Failed: 100}); got != 0 {
			t.Fatalf("expected 0, got %d", got)
		}
	})

	t.Run("non-increasing in processing and always bounded", func(t *testing.T) {
		for _, base := range []model.QueueCounts{{}, {Input: 25, Failed: 9}, {Input: 3, Output: 1000}} {
			prev := 101
			for p := 0; p <= 15; p++ {
				c := base
				c.Processing = p
				got := usecase.HealthScore(c)
				if got < 0 || got > 100 {
					t.Fatalf("score %d out of range", got)
				}
				if got > prev {
					t.Fatalf("score increased from %d to %d at processing=%d", prev, got, p)
				}
				prev = got
			}
		}
	})

	t.Run("backlog allowances", func(t *testing.T) {
		if got := usecase.HealthScore(model.QueueCounts{Input: 10, Failed: 5}); got != 100 {
			t.Fatalf("allowances should be free, got %d", got)
		}
		if got := usecase.HealthScore(model.QueueCounts{Input: 11}); got != 98 {
			t.Fatalf("expected 98, got %d", got)
		}
		if got := usecase.HealthScore(model.QueueCounts{Failed: 6}); got != 95 {
			t.Fatalf("expected 95, got %d", got)
		}
	})
}

func TestHealthUseCase_WithScanner(t *testing.T) {
	ctx := context.Background()
	store := memqueue.New()
	putProcessing(t, store, "stuck", "hello", 20*time.Minute)
	sc := newScanner(store, usecase.ScannerOptions{})
	h := usecase.NewHealthUseCase(store, sc, newTestLogger())

	before := h.Snapshot(ctx)
	if before.HealthScore != 90 {
		t.Fatalf("expected 90 with one stuck record, got %d", before.HealthScore)
	}
	if _, err := sc.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	after := h.Snapshot(ctx)
	if after.HealthScore != 100 || after.QueueCounts.Failed != 1 {
		t.Fatalf("unexpected snapshot after scan %+v", after)
	}
	if after.CleanupStats.FailedRequests != 1 || after.CleanupStats.TotalScans != 1 {
		t.Fatalf("stats not exposed through health: %+v", after.CleanupStats)
	}
}
