package generation

import (
	"time"

	"github.com/makeasinger/orchestrator/internal/model"
)

// Progress is a user-facing projection of a job's state
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Ended   bool   `json:"ended"`
	Success bool   `json:"success"`
}

type band struct {
	lo, hi int
}

// Bands are ordered along the lifecycle so percent never decreases
// as a job moves forward.
var progressBands = map[model.JobState]band{
	model.JobStateCreated:              {0, 0},
	model.JobStateDispatched:           {5, 20},
	model.JobStateAwaitingVerification: {20, 45},
	model.JobStateProcessing:           {45, 95},
}

// Project maps a state and elapsed time to a percentage and message. It is
// pure: identical inputs always give identical output.
func Project(state model.JobState, elapsed, tickBudget time.Duration) Progress {
	switch state {
	case model.JobStateCompleted:
		return Progress{Percent: 100, Message: "Generation complete", Ended: true, Success: true}
	case model.JobStateFailed:
		return Progress{Percent: 100, Message: "Generation failed", Ended: true}
	case model.JobStateCancelled:
		return Progress{Percent: 100, Message: "Generation cancelled", Ended: true}
	case model.JobStateTimedOut:
		return Progress{Percent: 100, Message: "Generation is taking too long, please try again", Ended: true}
	}

	b, ok := progressBands[state]
	if !ok {
		return Progress{Message: "Unknown state"}
	}

	frac := fraction(elapsed, tickBudget)
	percent := b.lo + int(float64(b.hi-b.lo)*frac)

	return Progress{Percent: percent, Message: message(state, frac)}
}

func fraction(elapsed, budget time.Duration) float64 {
	if budget <= 0 || elapsed <= 0 {
		return 0
	}
	f := float64(elapsed) / float64(budget)
	if f > 1 {
		return 1
	}
	return f
}

func message(state model.JobState, frac float64) string {
	switch state {
	case model.JobStateCreated:
		return "Preparing request..."
	case model.JobStateDispatched:
		return "Starting generation engine..."
	case model.JobStateAwaitingVerification:
		return "Verifying security..."
	}
	switch {
	case frac < 0.33:
		return "Composing melody..."
	case frac < 0.66:
		return "Arranging instruments..."
	default:
		return "Mixing and mastering..."
	}
}
