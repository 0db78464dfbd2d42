package model

import (
	"encoding/json"
	"time"
)

// GenerationRequest is the canonical, validated form of a user's creative intent.
// Produced only by the request normalizer; treat as read-only.
type GenerationRequest struct {
	Description  string      `json:"description"`
	Lyrics       string      `json:"lyrics,omitempty"`
	Instrumental bool        `json:"instrumental"`
	StylePreset  StylePreset `json:"stylePreset"`
	RequesterID  string      `json:"requesterId"`
}

// JobHandle identifies one accepted submission and the backend that owns it
type JobHandle struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"externalId"`
	BackendName string    `json:"backendName"`
	CreatedAt   time.Time `json:"createdAt"`
	Degraded    bool      `json:"degraded"`
	RequesterID string    `json:"requesterId"`
}

// RawStatus is a backend's answer to a status check, before mapping
type RawStatus struct {
	Tag     string          `json:"tag"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PollResult is produced per tick and consumed immediately by the state machine
type PollResult struct {
	Raw            RawStatus `json:"raw"`
	Signal         Signal    `json:"signal"`
	CanonicalState JobState  `json:"canonicalState"`
}

// Track is a normalized generation result
type Track struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	DurationSeconds float64           `json:"durationSeconds"`
	AudioLocator    string            `json:"audioLocator,omitempty"`
	StyleMetadata   map[string]string `json:"styleMetadata,omitempty"`
}

// Transition is delivered for every state change of a job. Err is set when
// the new state is a failure state and carries the typed cause.
type Transition struct {
	JobID   string          `json:"jobId"`
	From    JobState        `json:"from"`
	To      JobState        `json:"to"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Tracks  []Track         `json:"tracks,omitempty"`
	Err     error           `json:"-"`
}

// Snapshot is the serializable view of a job used to resume display across reloads
type Snapshot struct {
	Handle      JobHandle       `json:"handle"`
	State       JobState        `json:"state"`
	LastPayload json.RawMessage `json:"lastPayload,omitempty"`
	Tracks      []Track         `json:"tracks,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// JobError is the serializable form of a terminal job error
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
