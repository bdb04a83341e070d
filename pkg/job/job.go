// Package job implements the job executor: a priority job queue with
// per-device concurrency caps, a worker pool, and the apply-plan algorithm
// that brackets every write with pre/post health checks and snapshots,
// rolling back on failure. A container/heap-backed priority queue feeds
// the worker pool.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of job kinds.
type Type string

const (
	TypeApplyPlan         Type = "apply_plan"
	TypeHealthCheck       Type = "health_check"
	TypeMetricsCollection Type = "metrics_collection"
	TypeConfigBackup      Type = "config_backup"
	TypeDriftDetection    Type = "drift_detection"
	TypeRollback          Type = "rollback"
	TypeCleanup           Type = "cleanup"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// HealthCheckPriority is the always-accepted priority reserved for
// health-check jobs; submissions at this priority bypass the queue's soft
// cap.
const HealthCheckPriority = 10

// Job is a unit of scheduled or on-demand work against one or more
// devices.
type Job struct {
	ID            uuid.UUID
	PlanID        uuid.NullUUID
	Type          Type
	Status        Status
	Priority      int
	DeviceIDs     []uuid.UUID
	ScheduledAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Attempts      int
	MaxAttempts   int
	ResultSummary string
	ErrorMessage  string
	CorrelationID string
}

// IsTerminal reports whether status can never transition further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// retryBackoff computes the exponential backoff delay after failed attempt
// number attempt (1-indexed) before the next one: base 60s, factor 2.0.
func retryBackoff(attempt int) time.Duration {
	base := 60 * time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
