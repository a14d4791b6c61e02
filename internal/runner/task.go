package runner

import (
	"context"
	"time"
)

// Task is a schedulable unit of background work.
type Task interface {
	// Name identifies the task in logs.
	Name() string

	// Schedule returns the cron expression (with seconds) for this task.
	Schedule() string

	// Run executes one iteration.
	Run(ctx context.Context) error

	// Timeout bounds a single run.
	Timeout() time.Duration
}
