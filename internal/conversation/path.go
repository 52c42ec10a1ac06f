package conversation

import "github.com/MrWong99/advisorsim/internal/feedback"

// Path is how a simulation ended.
type Path string

const (
	// PathExit leaves without a report.
	PathExit Path = "exit"

	// PathVoiceOnly shows the canned report for a voice call without
	// usable transcript.
	PathVoiceOnly Path = "voice_only"

	// PathTooShort shows the canned "too short" report.
	PathTooShort Path = "too_short"

	// PathGenerate asks the report generator for a full analysis.
	PathGenerate Path = "generate"
)

// Outcome is the result of ending a simulation.
type Outcome struct {
	Path Path

	// Report is empty on [PathExit].
	Report string
}

// SelectPath picks the ending path from the number of turns and whether a
// voice call was active when the advisor ended the simulation.
//
// The text-mode rule for short sessions exits before the "too short" report
// can be chosen, so [PathTooShort] is never returned here; the generator
// produces the same text on its own for short histories.
func SelectPath(turns int, wasLive bool) Path {
	switch {
	case !wasLive && turns < feedback.MinTurns:
		return PathExit
	case wasLive && turns < feedback.MinTurns:
		return PathVoiceOnly
	case !wasLive && turns < feedback.MinTurns:
		return PathTooShort
	default:
		return PathGenerate
	}
}
