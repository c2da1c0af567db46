// Package sym defines the glyphs the cadence CLI and logs use as markers.
package sym

// System glyphs
const (
	Pulse      = "꩜" // scheduler engine, ticks and firings
	PulseOpen  = "✿" // host startup
	PulseClose = "❀" // host shutdown
	AM         = "≡" // configuration
	DB         = "⊔" // schedule store
	Lock       = "⊘" // trigger locks
	AT         = "✦" // fire time
)

// Record state glyphs
const (
	Waiting  = "○"
	Acquired = "◔"
	Firing   = "◉"
	Complete = "●"
	Misfired = "◌"
	Unknown  = "?"
)

var stateGlyphs = map[string]string{
	"waiting":  Waiting,
	"acquired": Acquired,
	"firing":   Firing,
	"complete": Complete,
	"misfired": Misfired,
}

// ForState returns the glyph of a schedule record state
func ForState(state string) string {
	if g, ok := stateGlyphs[state]; ok {
		return g
	}
	return Unknown
}

// Outcome glyphs
const (
	OK       = "✓"
	Failed   = "✗"
	TimedOut = "⧖"
)

// ForOutcome returns the glyph of a firing outcome; empty when nothing ran yet
func ForOutcome(outcome string) string {
	switch outcome {
	case "succeeded", "completed":
		return OK
	case "failed":
		return Failed
	case "timed_out":
		return TimedOut
	case "":
		return ""
	default:
		return Unknown
	}
}
