package model

import "time"

// GenerateStartRequest is the body of POST /api/generate. The requester is
// taken from the authenticated identity, never from the body.
type GenerateStartRequest struct {
	Description  string `json:"description"`
	Lyrics       string `json:"lyrics,omitempty"`
	Instrumental bool   `json:"instrumental"`
	StylePreset  string `json:"stylePreset,omitempty"`
}

// GenerateStartResponse is returned once a backend accepted the job
type GenerateStartResponse struct {
	JobID     string    `json:"jobId"`
	Backend   string    `json:"backend"`
	Degraded  bool      `json:"degraded"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateStatusResponse represents the projected progress of a job
type GenerateStatusResponse struct {
	JobID     string    `json:"jobId"`
	Backend   string    `json:"backend"`
	State     JobState  `json:"state"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Degraded  bool      `json:"degraded"`
	Ended     bool      `json:"ended"`
	Error     *JobError `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GenerateResultResponse carries the tracks of a completed job
type GenerateResultResponse struct {
	JobID    string  `json:"jobId"`
	Backend  string  `json:"backend"`
	Degraded bool    `json:"degraded"`
	Tracks   []Track `json:"tracks"`

	// Presigned link to the archived manifest, when archiving is enabled
	ManifestURL string `json:"manifestUrl,omitempty"`
}

// GenerateCancelResponse represents the outcome of a cancel request
type GenerateCancelResponse struct {
	Success bool     `json:"success"`
	JobID   string   `json:"jobId"`
	State   JobState `json:"state"`
}
