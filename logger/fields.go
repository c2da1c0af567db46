package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across cadence.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Scheduling identity
	FieldJobType     = "job_type"
	FieldJobIdentity = "job_identity"
	FieldTrigger     = "trigger"
	FieldCron        = "cron"
	FieldExecutionID = "execution_id"
	FieldHolderID    = "holder_id"
	FieldLock        = "lock"

	// Components
	FieldComponent = "component"
	FieldDriver    = "driver"

	// Timing
	FieldFireTime     = "fire_time"
	FieldNextFireTime = "next_fire_time"
	FieldDurationMS   = "duration_ms"
	FieldLateBy       = "late_by"

	// Errors
	FieldError   = "error"
	FieldAttempt = "attempt"

	// Counts and status
	FieldCount = "count"
	FieldState = "state"

	// Network
	FieldAddress = "address"
)

// Context keys for propagating logging context
type contextKey string

const (
	triggerKey     contextKey = "logger_trigger"
	executionIDKey contextKey = "logger_execution_id"
)

// WithTrigger adds a trigger identity to the context for logging
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey, trigger)
}

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if trigger, ok := ctx.Value(triggerKey).(string); ok && trigger != "" {
		fields = append(fields, FieldTrigger, trigger)
	}
	if id, ok := ctx.Value(executionIDKey).(string); ok && id != "" {
		fields = append(fields, FieldExecutionID, id)
	}

	return fields
}

// FromContext returns base enriched with fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
