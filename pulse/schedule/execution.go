package schedule

import "time"

// Execution is one firing of a trigger by a node of the cluster.
//
// A row is written as running when the worker picks the firing up and
// completed or failed when the job returns or times out. Rows older than
// scheduler.execution_retention are pruned by the cadence.prune-executions job.
type Execution struct {
	ID              string `json:"id" yaml:"id"`
	TriggerIdentity string `json:"trigger_identity" yaml:"trigger_identity"`
	JobTypeID       string `json:"job_type" yaml:"job_type"`
	HolderID        string `json:"holder_id" yaml:"holder_id"`

	FireTime          time.Time `json:"fire_time" yaml:"fire_time"`
	ScheduledFireTime time.Time `json:"scheduled_fire_time" yaml:"scheduled_fire_time"`
	Misfired          bool      `json:"misfired" yaml:"misfired"`

	Status       string     `json:"status" yaml:"status"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// Execution status constants
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)
