package repository

import (
	"context"
	"time"

	"ai-request-queue/internal/domain/model"
)

// QueueStore holds request records partitioned by state. The state a record
// is stored under is its state; there is no separate index.
//
// Implementations must make Move atomic with respect to other agents. A Move
// whose source is already gone returns domain.ErrNotFound, which callers treat
// as a lost race rather than a failure.
type QueueStore interface {
	// List returns entries in a state. A state that does not exist yet lists as empty.
	List(ctx context.Context, state model.QueueState) ([]model.Entry, error)
	Read(ctx context.Context, state model.QueueState, id string) ([]byte, error)
	// Write creates a new record; it fails with domain.ErrAlreadyExists on collision.
	Write(ctx context.Context, state model.QueueState, id string, data []byte) error
	Move(ctx context.Context, id string, from, to model.QueueState) error
	// Touch updates the modification time without changing content.
	Touch(ctx context.Context, state model.QueueState, id string, at time.Time) error
	Count(ctx context.Context, state model.QueueState) (int, error)
}
