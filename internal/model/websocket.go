package model

// WebSocket message types
const (
	WSMessageTypeTransition = "transition"
	WSMessageTypeComplete   = "complete"
	WSMessageTypeError      = "error"
	WSMessageTypePing       = "ping"
	WSMessageTypePong       = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSTransitionMessage is sent for every job state change
type WSTransitionMessage struct {
	Type     string   `json:"type"`
	JobID    string   `json:"jobId"`
	State    JobState `json:"state"`
	Percent  int      `json:"percent"`
	Message  string   `json:"message"`
	Degraded bool     `json:"degraded,omitempty"`
	Ended    bool     `json:"ended,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string  `json:"type"`
	JobID  string  `json:"jobId"`
	Result []Track `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
