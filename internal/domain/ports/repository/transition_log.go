package repository

import (
	"context"

	"ai-request-queue/internal/domain/model"
)

// TransitionLog is the durable history of state transitions.
type TransitionLog interface {
	Append(ctx context.Context, ev model.TransitionEvent) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]model.TransitionEvent, error)
}
