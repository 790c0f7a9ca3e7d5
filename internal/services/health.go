package services

import (
	"context"
	"time"

	"simdoc/internal/persistence"
)

// workerBacklogThreshold is the queue length above which the worker component
// is reported as degraded.
const workerBacklogThreshold = 1000

// HealthReport is the aggregate health of the system's components.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthService probes the document store and the queue.
type HealthService struct {
	store persistence.DocumentStore
	queue persistence.JobQueue
}

// NewHealthService wires a health service.
func NewHealthService(store persistence.DocumentStore, queue persistence.JobQueue) *HealthService {
	return &HealthService{store: store, queue: queue}
}

// CheckHealth reports pass/warn/fail per component and overall. A queue
// backlog past the threshold degrades the worker component to warn.
func (s *HealthService) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     "pass",
		Components: map[string]string{},
		Timestamp:  time.Now().UTC(),
	}

	if err := s.store.Ping(ctx); err != nil {
		report.Components["elasticsearch"] = "fail"
		report.Status = "fail"
	} else {
		report.Components["elasticsearch"] = "pass"
	}

	queueHealth := s.queue.HealthCheck(ctx)
	report.Components["redis"] = queueHealth.Status
	if queueHealth.Status != "pass" {
		report.Status = "fail"
	}

	report.Components["worker"] = "pass"
	if length, err := s.queue.QueueLength(ctx); err == nil && length > workerBacklogThreshold {
		report.Components["worker"] = "warn"
		if report.Status == "pass" {
			report.Status = "warn"
		}
	}
	return report
}
