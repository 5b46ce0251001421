package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/adapter"
	"ai-request-queue/internal/domain/ports/repository"
	"ai-request-queue/internal/infra/logging"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ QueueUseCase = (*queueUC)(nil)

type QueueUseCase interface {
	// Enqueue is the producer side: a new record lands in input.
	Enqueue(ctx context.Context, prompt, sessionID string) (*model.Record, error)
	// List returns up to limit entries of a state, oldest first.
	List(ctx context.Context, state model.QueueState, limit int) ([]model.Entry, error)
	// RequeueFailed moves failed records back to input; all of them when ids is empty.
	RequeueFailed(ctx context.Context, ids []string) (int, error)
}

type queueUC struct {
	store repository.QueueStore
	sink  adapter.TransitionSink
	dev   bool // log prompts unredacted
	now   func() time.Time
	log   *zerolog.Logger
}

func NewQueueUseCase(store repository.QueueStore, logger *zerolog.Logger) *queueUC {
	l := logger.With().Str("component", "Queue").Logger()
	return &queueUC{store: store, now: time.Now, log: &l}
}

// WithSink reports requeues to sink.
func (q *queueUC) WithSink(sink adapter.TransitionSink) *queueUC {
	q.sink = sink
	return q
}

func (q *queueUC) WithDev(dev bool) *queueUC {
	q.dev = dev
	return q
}

func (q *queueUC) Enqueue(ctx context.Context, prompt, sessionID string) (*model.Record, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidArgument)
	}
	now := q.now()
	rec := &model.Record{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Prompt:    prompt,
		SessionID: sessionID,
		Timestamp: model.NewTimestamp(now),
	}
	data, err := model.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if err := q.store.Write(ctx, model.StateInput, rec.ID, data); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	q.log.Info().
		Str("id", rec.ID).
		Str("session_id", sessionID).
		Str("prompt", logging.Redact(prompt, q.dev)).
		Msg("request enqueued")
	return rec, nil
}

func (q *queueUC) List(ctx context.Context, state model.QueueState, limit int) ([]model.Entry, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: state %q", domain.ErrInvalidArgument, state)
	}
	entries, err := q.store.List(ctx, state)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ModTime.Before(entries[j].ModTime) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (q *queueUC) RequeueFailed(ctx context.Context, ids []string) (int, error) {
	defer logging.TraceDuration(q.log, "QueueUC.RequeueFailed")()
	if len(ids) == 0 {
		entries, err := q.store.List(ctx, model.StateFailed)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}

	now := q.now()
	requeued := 0
	var firstErr error
	for _, id := range ids {
		err := q.store.Move(ctx, id, model.StateFailed, model.StateInput)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			q.log.Error().Err(err).Str("id", id).Msg("requeue failed record")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := q.store.Touch(ctx, model.StateInput, id, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			q.log.Warn().Err(err).Str("id", id).Msg("could not reset age of requeued record")
		}
		requeued++
		emit(ctx, q.sink, q.log, model.TransitionEvent{
			ID:    id,
			From:  model.StateFailed,
			To:    model.StateInput,
			Cause: model.CauseRequeue,
			At:    now,
		})
	}
	if requeued > 0 {
		q.log.Info().Int("count", requeued).Msg("failed requests requeued")
	}
	return requeued, firstErr
}
