package model

import "time"

// TransitionCause names what moved a record between states.
type TransitionCause string

const (
	CauseRecover      TransitionCause = "recover"
	CauseFail         TransitionCause = "fail"
	CauseForceCleanup TransitionCause = "force-cleanup"
	CauseRequeue      TransitionCause = "requeue"
)

// TransitionEvent records one completed move.
type TransitionEvent struct {
	ID         string          `json:"id"`
	From       QueueState      `json:"from"`
	To         QueueState      `json:"to"`
	Cause      TransitionCause `json:"cause"`
	Reason     string          `json:"reason,omitempty"`
	Category   Category        `json:"category,omitempty"`
	AgeMinutes float64         `json:"ageMinutes"`
	At         time.Time       `json:"at"`
}
