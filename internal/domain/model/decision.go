package model

import "time"

// Category is the workload class used to pick a timeout threshold.
// It is never persisted; it is re-derived from the prompt on every scan.
type Category string

const (
	CategorySimple     Category = "simple"
	CategoryMemory     Category = "memory"
	CategoryFileSystem Category = "fileSystem"
	CategoryComplex    Category = "complex"
	CategoryDefault    Category = "default"
)

var AllCategories = []Category{
	CategorySimple,
	CategoryMemory,
	CategoryFileSystem,
	CategoryComplex,
	CategoryDefault,
}

type Action string

const (
	ActionKeep    Action = "keep"
	ActionRecover Action = "recover"
	ActionFail    Action = "fail"
)

// Decision is the outcome of evaluating one processing record.
type Decision struct {
	ID         string   `json:"id"`
	Action     Action   `json:"action"`
	Reason     string   `json:"reason"`
	AgeMinutes float64  `json:"ageMinutes"`
	Category   Category `json:"category"`
}

// ScanReport summarizes one scan cycle.
type ScanReport struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Scanned   int           `json:"scanned"`
	Kept      int           `json:"kept"`
	Recovered int           `json:"recovered"`
	Failed    int           `json:"failed"`
	// Skipped counts records another agent moved before we could.
	Skipped   int        `json:"skipped"`
	Errors    int        `json:"errors"`
	Degraded  bool       `json:"degraded"`
	Decisions []Decision `json:"decisions,omitempty"`
}

// Transitions is the number of records this scan actually moved.
func (r ScanReport) Transitions() int { return r.Recovered + r.Failed }

// ForceCleanupResult is returned by the administrative force-cleanup.
type ForceCleanupResult struct {
	Moved  int `json:"moved"`
	Errors int `json:"errors"`
}
