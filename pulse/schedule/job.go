// Package schedule registers cron job definitions in the shared store and
// fires each trigger on exactly one node per tick.
package schedule

import (
	"strings"
	"time"
	"unicode"

	"github.com/teranos/cadence/errors"
)

// JobDefinition pairs a job type with the cron expression that drives it
type JobDefinition struct {
	JobTypeID      string `json:"job_type" yaml:"job_type"`
	CronExpression string `json:"cron" yaml:"cron"`
}

// Validate checks the identity part of the definition.
// The cron expression is checked separately by the evaluator.
func (d JobDefinition) Validate() error {
	if err := validateIdentityPart("job type", d.JobTypeID); err != nil {
		return err
	}
	if strings.TrimSpace(d.CronExpression) == "" {
		return errors.Mark(errors.Newf("job %q has no cron expression", d.JobTypeID), errors.ErrInvalidDefinition)
	}
	return nil
}

func validateIdentityPart(what, s string) error {
	if s == "" {
		return errors.Mark(errors.Newf("%s is empty", what), errors.ErrInvalidDefinition)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return errors.Mark(errors.Newf("%s %q contains whitespace", what, s), errors.ErrInvalidDefinition)
	}
	return nil
}

// Identity names a job and its single trigger within a namespace
type Identity struct {
	Job     string
	Trigger string
}

// JobIdentity returns "<namespace>_Job_<jobTypeID>"
func JobIdentity(namespace, jobTypeID string) string {
	return namespace + "_Job_" + jobTypeID
}

// TriggerIdentity returns "<namespace>_Trigger_<jobTypeID>"
func TriggerIdentity(namespace, jobTypeID string) string {
	return namespace + "_Trigger_" + jobTypeID
}

// IdentityFor computes both identities for jobTypeID
func IdentityFor(namespace, jobTypeID string) Identity {
	return Identity{
		Job:     JobIdentity(namespace, jobTypeID),
		Trigger: TriggerIdentity(namespace, jobTypeID),
	}
}

// State of a schedule record as last written by the engine
type State string

const (
	StateWaiting  State = "waiting"  // due at NextFireTime
	StateAcquired State = "acquired" // lock taken, firing not yet recorded
	StateFiring   State = "firing"   // executing on FiredBy
	StateComplete State = "complete" // last firing finished
	StateMisfired State = "misfired" // last firing came after the misfire threshold
)

// Outcome of a firing, stored on the record as last_outcome
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Record is the durable schedule state of one trigger
type Record struct {
	TriggerIdentity string `json:"trigger_identity" yaml:"trigger_identity"`
	JobIdentity     string `json:"job_identity" yaml:"job_identity"`
	JobTypeID       string `json:"job_type" yaml:"job_type"`
	CronExpression  string `json:"cron" yaml:"cron"`

	// NextFireTime is nil when the expression never matches again
	NextFireTime *time.Time `json:"next_fire_time,omitempty" yaml:"next_fire_time,omitempty"`
	LastFireTime *time.Time `json:"last_fire_time,omitempty" yaml:"last_fire_time,omitempty"`
	// LastScheduledTime is the fire instant of the last tick that fired
	LastScheduledTime *time.Time `json:"last_scheduled_time,omitempty" yaml:"last_scheduled_time,omitempty"`

	State        State  `json:"state" yaml:"state"`
	LastOutcome  string `json:"last_outcome,omitempty" yaml:"last_outcome,omitempty"`
	LastError    string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	FiredBy      string `json:"fired_by,omitempty" yaml:"fired_by,omitempty"`
	MisfireCount int    `json:"misfire_count" yaml:"misfire_count"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Definition returns the job definition the record was registered from
func (r *Record) Definition() JobDefinition {
	return JobDefinition{JobTypeID: r.JobTypeID, CronExpression: r.CronExpression}
}

// Due reports whether the record should fire at now
func (r *Record) Due(now time.Time) bool {
	return r.NextFireTime != nil && !r.NextFireTime.After(now)
}
