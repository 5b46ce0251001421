package usecase

import (
	"context"
	"errors"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

type fanOut []adapter.TransitionSink

// FanOut delivers each event to every non-nil sink. It returns nil when no
// sink remains.
func FanOut(sinks ...adapter.TransitionSink) adapter.TransitionSink {
	var out fanOut
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (f fanOut) Publish(ctx context.Context, ev model.TransitionEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func emit(ctx context.Context, sink adapter.TransitionSink, log *zerolog.Logger, ev model.TransitionEvent) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("id", ev.ID).Str("cause", string(ev.Cause)).Msg("transition event not delivered")
	}
}
