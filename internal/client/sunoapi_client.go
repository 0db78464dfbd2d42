package client

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"

	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/model"
)

const SunoAPIBackendName = "sunoapi"

const defaultSunoConcurrency = 20

var promptRedactor = strings.NewReplacer("@", "[at]", "+", " plus ")

// SunoAPIClient is the hosted Suno API used as fallback when the wrapper
// is unavailable. Only the generate, record-info and credit endpoints are used.
type SunoAPIClient struct {
	client      *resty.Client
	model       string
	callbackURL string
	configured  bool
	sanitize    bool

	// bounds in-flight submit and status calls
	sem *semaphore.Weighted
}

type sunoGenerateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	CallBackURL  string `json:"callBackUrl"`
}

// sunoEnvelope wraps every Suno API answer
type sunoEnvelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type sunoTask struct {
	TaskID string `json:"taskId"`
}

type sunoRecord struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// NewSunoAPIClient creates a new Suno API client
func NewSunoAPIClient(cfg *config.SunoConfig) *SunoAPIClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultSunoConcurrency
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey).
		SetRetryCount(retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(8 * time.Second)

	client.AddRetryCondition(sunoRetryCondition)

	return &SunoAPIClient{
		client:      client,
		model:       cfg.Model,
		callbackURL: cfg.CallbackURL,
		configured:  cfg.APIKey != "",
		sanitize:    cfg.SanitizePrompts,
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

// sunoRetryCondition retries reads on network errors, 429 and 5xx. Submissions
// are never retried here: the provider bills per accepted task.
func sunoRetryCondition(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// Descriptor registers the Suno API with the generation registry
func (c *SunoAPIClient) Descriptor(cfg *config.SunoConfig) generation.Descriptor {
	return generation.Descriptor{
		Name:        SunoAPIBackendName,
		Priority:    cfg.Priority,
		Backend:     c,
		MapStatus:   SunoAPIStatus,
		MapTracks:   SunoAPITracks,
		CheckHealth: cfg.HealthCheck,
		Degraded:    cfg.Degraded,
	}
}

// IsConfigured returns true if the client has an API key
func (c *SunoAPIClient) IsConfigured() bool {
	return c.configured
}

// Submit creates a generation task. With lyrics the request uses custom mode,
// where prompt carries the lyrics and style carries the description.
func (c *SunoAPIClient) Submit(ctx context.Context, req model.GenerationRequest) (string, error) {
	body := sunoGenerateRequest{
		Instrumental: req.Instrumental,
		Model:        c.model,
		CallBackURL:  c.callbackURL,
	}
	style := string(req.StylePreset)
	if req.Lyrics != "" {
		body.CustomMode = true
		body.Prompt = req.Lyrics
		body.Style = style
		if req.Description != "" {
			body.Style = req.Description + ", " + style
		}
		body.Title = titleFrom(req.Description)
	} else {
		body.Prompt = req.Description
		if req.StylePreset != model.StylePresetDefault {
			body.Prompt = req.Description + " (" + style + ")"
		}
	}
	if c.sanitize {
		body.Prompt = promptRedactor.Replace(body.Prompt)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	var result sunoEnvelope[sunoTask]
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/api/v1/generate")
	if err := checkSunoResponse(resp, err, "POST /api/v1/generate"); err != nil {
		return "", err
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("suno api rejected request (code %d): %s", result.Code, result.Msg)
	}
	return result.Data.TaskID, nil
}

// PollStatus reads the task record. The whole body is kept as payload so
// tracks can be extracted once the task succeeds.
func (c *SunoAPIClient) PollStatus(ctx context.Context, handle model.JobHandle) (model.RawStatus, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return model.RawStatus{}, err
	}
	defer c.sem.Release(1)

	var result sunoEnvelope[sunoRecord]
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("taskId", handle.ExternalID).
		SetResult(&result).
		Get("/api/v1/generate/record-info")
	if err := checkSunoResponse(resp, err, "GET /api/v1/generate/record-info"); err != nil {
		return model.RawStatus{}, err
	}
	if result.Code != http.StatusOK {
		return model.RawStatus{}, fmt.Errorf("suno api status error (code %d): %s", result.Code, result.Msg)
	}
	if result.Data.Status == "" {
		return model.RawStatus{}, fmt.Errorf("suno api record without status")
	}

	return model.RawStatus{
		Tag:     result.Data.Status,
		Reason:  result.Data.ErrorMessage,
		Payload: resp.Body(),
	}, nil
}

// Cancel is a no-op: the provider has no cancel endpoint.
func (c *SunoAPIClient) Cancel(_ context.Context, handle model.JobHandle) error {
	log.Printf("[SunoAPI] task %s cannot be cancelled upstream, it will run to completion", handle.ExternalID)
	return nil
}

// HealthCheck queries the remaining credits
func (c *SunoAPIClient) HealthCheck(ctx context.Context) bool {
	if !c.configured {
		return false
	}
	var result sunoEnvelope[float64]
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/generate/credit")
	if err := checkSunoResponse(resp, err, "GET /api/v1/generate/credit"); err != nil {
		log.Printf("[SunoAPI] health check failed: %v", err)
		return false
	}
	if result.Code != http.StatusOK || result.Data <= 0 {
		log.Printf("[SunoAPI] health check failed: code=%d credits=%v", result.Code, result.Data)
		return false
	}
	return true
}

func checkSunoResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		log.Printf("[SunoAPI] ✗ %s — request failed: %v", op, err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	log.Printf("[SunoAPI] ← %d %s", resp.StatusCode(), op)
	if resp.IsError() {
		return fmt.Errorf("suno api error (status %d): %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

// titleFrom derives a short title from the description
func titleFrom(description string) string {
	words := strings.Fields(description)
	if len(words) > 6 {
		words = words[:6]
	}
	title := strings.Join(words, " ")
	if r := []rune(title); len(r) > 80 {
		title = string(r[:80])
	}
	return title
}

// SunoAPIStatus maps the task status vocabulary of the hosted API
func SunoAPIStatus(tag string) model.Signal {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "SUCCESS":
		return model.SignalSucceeded
	case "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "CALLBACK_EXCEPTION", "SENSITIVE_WORD_ERROR":
		return model.SignalFailed
	default:
		// PENDING, TEXT_SUCCESS, FIRST_SUCCESS
		return model.SignalProcessing
	}
}

// SunoAPITracks reads data.response.sunoData of a record-info body
var SunoAPITracks = generation.JSONTrackMapper("data.response.sunoData", generation.TrackFields{
	ID:       []string{"id"},
	Title:    []string{"title"},
	Duration: []string{"duration"},
	Audio:    []string{"audioUrl", "sourceAudioUrl", "streamAudioUrl"},
	Style: map[string]string{
		"tags":  "tags",
		"model": "modelName",
	},
})
