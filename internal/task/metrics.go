package task

import "time"

// Metrics receives execution outcomes. The Prometheus implementation lives in
// internal/observability/metrics; NopMetrics is used when none is wired.
type Metrics interface {
	ObserveExecution(taskType string, status Status, took time.Duration)
	ObserveRateLimited(kind string)
	ObserveDesyncRepair(source string)
}

type NopMetrics struct{}

func (NopMetrics) ObserveExecution(string, Status, time.Duration) {}
func (NopMetrics) ObserveRateLimited(string)                      {}
func (NopMetrics) ObserveDesyncRepair(string)                     {}
