package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/model"
)

const WrapperBackendName = "suno-wrapper"

// WrapperClient talks to the browser-automation wrapper service that drives
// the Suno web app. It is the primary backend.
type WrapperClient struct {
	httpClient *http.Client
	baseURL    string
}

// wrapperGenerateRequest is the body of POST /generate-music
type wrapperGenerateRequest struct {
	Prompt       string `json:"prompt"`
	Lyrics       string `json:"lyrics,omitempty"`
	Style        string `json:"style"`
	Instrumental bool   `json:"instrumental"`
	RequesterID  string `json:"requesterId"`
}

type wrapperGenerateResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Error   string `json:"error,omitempty"`
}

type wrapperStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type wrapperEvent struct {
	JobID     string `json:"job_id"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// NewWrapperClient creates a new wrapper client
func NewWrapperClient(cfg *config.WrapperConfig) *WrapperClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WrapperClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Descriptor registers the wrapper with the generation registry
func (c *WrapperClient) Descriptor(cfg *config.WrapperConfig) generation.Descriptor {
	return generation.Descriptor{
		Name:        WrapperBackendName,
		Priority:    cfg.Priority,
		Backend:     c,
		MapStatus:   WrapperStatus,
		MapTracks:   WrapperTracks,
		CheckHealth: cfg.HealthCheck,
	}
}

// Submit starts a generation on the wrapper
func (c *WrapperClient) Submit(ctx context.Context, req model.GenerationRequest) (string, error) {
	body := wrapperGenerateRequest{
		Prompt:       req.Description,
		Lyrics:       req.Lyrics,
		Style:        string(req.StylePreset),
		Instrumental: req.Instrumental,
		RequesterID:  req.RequesterID,
	}

	var result wrapperGenerateResponse
	if err := c.post(ctx, "/generate-music", body, &result); err != nil {
		return "", err
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("wrapper rejected request: %s", msg)
	}
	return result.JobID, nil
}

// PollStatus retrieves the status of a wrapper job
func (c *WrapperClient) PollStatus(ctx context.Context, handle model.JobHandle) (model.RawStatus, error) {
	endpoint := "/status/" + url.PathEscape(handle.ExternalID)
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return model.RawStatus{}, err
	}

	var status wrapperStatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return model.RawStatus{}, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if status.Status == "" {
		return model.RawStatus{}, fmt.Errorf("wrapper status response without status")
	}

	return model.RawStatus{Tag: status.Status, Reason: status.Error, Payload: raw}, nil
}

// Cancel reports the cancellation as a job event
func (c *WrapperClient) Cancel(ctx context.Context, handle model.JobHandle) error {
	event := wrapperEvent{
		JobID:     handle.ExternalID,
		Provider:  "suno",
		Status:    "CANCELLED",
		Timestamp: time.Now().Unix(),
	}
	var ack map[string]interface{}
	return c.post(ctx, "/event", event, &ack)
}

// HealthCheck reports whether the wrapper answers GET /health
func (c *WrapperClient) HealthCheck(ctx context.Context) bool {
	_, err := c.get(ctx, "/health")
	if err != nil {
		log.Printf("[Wrapper API] health check failed: %v", err)
		return false
	}
	return true
}

// IsConfigured returns true if the client has a base URL
func (c *WrapperClient) IsConfigured() bool {
	return c.baseURL != ""
}

// post sends a POST request with JSON body
func (c *WrapperClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	respBody, err := c.doRequest(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Wrapper API] ✗ unmarshal error for %s %s: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// get sends a GET request and returns the raw body
func (c *WrapperClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req)
}

// doRequest executes an HTTP request and returns the body of a 2xx response
func (c *WrapperClient) doRequest(req *http.Request) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Printf("[Wrapper API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Wrapper API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Wrapper API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("wrapper error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

// WrapperStatus maps the wrapper's status vocabulary. Unknown tags keep the
// job polling; the tick budget bounds them.
func WrapperStatus(tag string) model.Signal {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "captcha_required", "needed", "needs_verification", "needs-verification":
		return model.SignalNeedsVerification
	case "completed", "success", "succeeded":
		return model.SignalSucceeded
	case "failed", "error":
		return model.SignalFailed
	default:
		return model.SignalProcessing
	}
}

// WrapperTracks reads the tracks array of a completed wrapper status
var WrapperTracks = generation.JSONTrackMapper("tracks", generation.TrackFields{
	ID:       []string{"id"},
	Title:    []string{"title"},
	Duration: []string{"duration"},
	Audio:    []string{"url", "audio_url", "download_url"},
	Style: map[string]string{
		"style":    "metadata.style",
		"provider": "metadata.provider",
	},
})

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
