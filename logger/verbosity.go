package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts
const (
	VerbosityDefault = 0 // No flags: configured level
	VerbosityDebug   = 1 // -v: debug
)

// LevelForVerbosity picks the effective level name.
// Any -v flag forces debug; otherwise the configured level wins.
func LevelForVerbosity(verbosity int, configured string) string {
	if verbosity >= VerbosityDebug {
		return zapcore.DebugLevel.String()
	}
	return configured
}
