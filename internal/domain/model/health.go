package model

import "time"

// UnknownCount marks a directory that could not be listed.
const UnknownCount = -1

type QueueCounts struct {
	Input      int `json:"input"`
	Processing int `json:"processing"`
	Output     int `json:"output"`
	Failed     int `json:"failed"`
}

func (c QueueCounts) Get(s QueueState) int {
	switch s {
	case StateInput:
		return c.Input
	case StateProcessing:
		return c.Processing
	case StateOutput:
		return c.Output
	case StateFailed:
		return c.Failed
	}
	return UnknownCount
}

func (c *QueueCounts) Set(s QueueState, n int) {
	switch s {
	case StateInput:
		c.Input = n
	case StateProcessing:
		c.Processing = n
	case StateOutput:
		c.Output = n
	case StateFailed:
		c.Failed = n
	}
}

// CleanupStats accumulate for the lifetime of one scanner.
type CleanupStats struct {
	TotalScans        int64     `json:"totalScans"`
	CleanedUpRequests int64     `json:"cleanedUpRequests"`
	RecoveredRequests int64     `json:"recoveredRequests"`
	FailedRequests    int64     `json:"failedRequests"`
	LastScanTime      time.Time `json:"lastScanTime"`
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthSnapshot struct {
	QueueCounts  QueueCounts  `json:"queueCounts"`
	CleanupStats CleanupStats `json:"cleanupStats"`
	HealthScore  int          `json:"healthScore"`
	Status       HealthStatus `json:"status"`
	GeneratedAt  time.Time    `json:"generatedAt"`
}
