package policy

import (
	"errors"
	"fmt"
	"time"

	"ai-request-queue/internal/domain/model"
)

const (
	DefaultMaxProcessingTime  = 2 * time.Hour
	DefaultRecoveryMultiplier = 1.5

	ReasonMaxProcessingTime = "exceeded maximum processing time"
	ReasonRecoveryWindow    = "exceeded soft threshold, within recovery window"
	ReasonStuck             = "exceeded recovery window"
	ReasonWithinWindow      = "within expected processing window"
)

// DefaultThresholds reflect expected worker latency per category.
func DefaultThresholds() map[model.Category]time.Duration {
	return map[model.Category]time.Duration{
		model.CategorySimple:     2 * time.Minute,
		model.CategoryMemory:     3 * time.Minute,
		model.CategoryFileSystem: 5 * time.Minute,
		model.CategoryComplex:    4 * time.Minute,
		model.CategoryDefault:    2 * time.Minute,
	}
}

// TimeoutPolicy is immutable once built.
type TimeoutPolicy struct {
	thresholds         map[model.Category]time.Duration
	maxProcessingTime  time.Duration
	recoveryMultiplier float64
}

func Default() *TimeoutPolicy {
	p, _ := NewTimeoutPolicy(DefaultThresholds(), DefaultMaxProcessingTime, DefaultRecoveryMultiplier)
	return p
}

// NewTimeoutPolicy validates and copies the given table. Categories missing
// from thresholds fall back to the built-in defaults.
func NewTimeoutPolicy(thresholds map[model.Category]time.Duration, maxProcessing time.Duration, multiplier float64) (*TimeoutPolicy, error) {
	if maxProcessing <= 0 {
		return nil, errors.New("max processing time must be positive")
	}
	if multiplier < 1 {
		return nil, fmt.Errorf("recovery multiplier %.2f must be >= 1", multiplier)
	}
	table := DefaultThresholds()
	for c, d := range thresholds {
		if d <= 0 {
			return nil, fmt.Errorf("threshold for %s must be positive", c)
		}
		table[c] = d
	}
	for c, d := range table {
		if d >= maxProcessing {
			return nil, fmt.Errorf("threshold for %s (%s) must be below max processing time (%s)", c, d, maxProcessing)
		}
	}
	return &TimeoutPolicy{
		thresholds:         table,
		maxProcessingTime:  maxProcessing,
		recoveryMultiplier: multiplier,
	}, nil
}

// ThresholdFor returns the soft threshold; unknown categories resolve to default.
func (p *TimeoutPolicy) ThresholdFor(c model.Category) time.Duration {
	if d, ok := p.thresholds[c]; ok {
		return d
	}
	return p.thresholds[model.CategoryDefault]
}

// RecoveryWindow is the end of the single retry window for a category.
func (p *TimeoutPolicy) RecoveryWindow(c model.Category) time.Duration {
	return time.Duration(float64(p.ThresholdFor(c)) * p.recoveryMultiplier)
}

func (p *TimeoutPolicy) MaxProcessingTime() time.Duration { return p.maxProcessingTime }

func (p *TimeoutPolicy) RecoveryMultiplier() float64 { return p.recoveryMultiplier }

// Decide applies the rules in order; the ceiling overrides everything.
func (p *TimeoutPolicy) Decide(age time.Duration, c model.Category) (model.Action, string) {
	threshold := p.ThresholdFor(c)
	window := p.RecoveryWindow(c)
	switch {
	case age > p.maxProcessingTime:
		return model.ActionFail, ReasonMaxProcessingTime
	case age > threshold && age < window:
		return model.ActionRecover, ReasonRecoveryWindow
	case age > threshold && age >= window:
		return model.ActionFail, ReasonStuck
	default:
		return model.ActionKeep, ReasonWithinWindow
	}
}
