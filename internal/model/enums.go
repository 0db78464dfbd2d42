package model

// Job states
type JobState string

const (
	JobStateCreated              JobState = "created"
	JobStateDispatched           JobState = "dispatched"
	JobStateAwaitingVerification JobState = "awaiting_verification"
	JobStateProcessing           JobState = "processing"
	JobStateCompleted            JobState = "completed"
	JobStateFailed               JobState = "failed"
	JobStateCancelled            JobState = "cancelled"
	JobStateTimedOut             JobState = "timed_out"
)

var AllJobStates = []JobState{
	JobStateCreated, JobStateDispatched, JobStateAwaitingVerification, JobStateProcessing,
	JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateTimedOut,
}

// IsTerminal reports whether no further transition can leave s.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateTimedOut:
		return true
	}
	return false
}

// IsActive reports whether s is a state a poller drives.
func (s JobState) IsActive() bool {
	switch s {
	case JobStateDispatched, JobStateAwaitingVerification, JobStateProcessing:
		return true
	}
	return false
}

// Signal is the canonical status tag a backend's raw vocabulary is mapped to.
type Signal string

const (
	SignalProcessing        Signal = "processing"
	SignalNeedsVerification Signal = "needs-verification"
	SignalSucceeded         Signal = "succeeded"
	SignalFailed            Signal = "failed"
)

// Style presets
type StylePreset string

const (
	StylePresetDefault      StylePreset = "default"
	StylePresetProfessional StylePreset = "professional"
	StylePresetCinematic    StylePreset = "cinematic"
	StylePresetElectronic   StylePreset = "electronic"
	StylePresetAcoustic     StylePreset = "acoustic"
	StylePresetOrchestral   StylePreset = "orchestral"
	StylePresetExperimental StylePreset = "experimental"
)

var ValidStylePresets = []StylePreset{
	StylePresetDefault, StylePresetProfessional, StylePresetCinematic, StylePresetElectronic,
	StylePresetAcoustic, StylePresetOrchestral, StylePresetExperimental,
}
