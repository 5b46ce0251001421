package adapter

import (
	"context"

	"ai-request-queue/internal/domain/model"
)

// TransitionSink receives every completed state transition. A sink failure
// never undoes the move it describes.
type TransitionSink interface {
	Publish(ctx context.Context, ev model.TransitionEvent) error
}
