// Package jobs builds a fresh, scoped job instance for every firing.
//
// Job types register a Constructor under their job type ID. The engine asks
// the Factory for an Instance when a trigger fires, runs it, and releases it.
// Release runs the scope's cleanup hooks exactly once, whether the job
// succeeded, failed, panicked or timed out.
package jobs

import (
	"context"
	"time"
)

// Job is one unit of scheduled work
type Job interface {
	// Execute runs the job for a single firing.
	// Implementations should return promptly once ctx is cancelled.
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// Func adapts a plain function to the Job interface
type Func func(ctx context.Context, ec *ExecutionContext) error

// Execute calls f
func (f Func) Execute(ctx context.Context, ec *ExecutionContext) error {
	return f(ctx, ec)
}

// ExecutionContext describes the firing a job instance is running for
type ExecutionContext struct {
	ExecutionID     string
	JobTypeID       string
	JobIdentity     string
	TriggerIdentity string
	HolderID        string

	// FireTime is when the engine actually fired the trigger
	FireTime time.Time
	// ScheduledFireTime is the instant the trigger was due
	ScheduledFireTime time.Time
	// Misfired is set when the firing was later than the misfire threshold
	Misfired bool
}

// LateBy is how far the actual firing trailed the scheduled instant
func (ec *ExecutionContext) LateBy() time.Duration {
	if ec.FireTime.Before(ec.ScheduledFireTime) {
		return 0
	}
	return ec.FireTime.Sub(ec.ScheduledFireTime)
}
