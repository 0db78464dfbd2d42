package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/store"
	ws "github.com/makeasinger/orchestrator/internal/websocket"
	"github.com/makeasinger/orchestrator/pkg/response"
)

// SnapshotReader reads persisted snapshots of jobs no longer in memory
type SnapshotReader interface {
	Get(ctx context.Context, jobID string) (model.Snapshot, error)
}

// ManifestSigner presigns links to archived track manifests
type ManifestSigner interface {
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type GenerateHandler struct {
	manager       *generation.Manager
	snapshots     SnapshotReader
	hub           *ws.Hub
	cancelTimeout time.Duration

	manifests      ManifestSigner
	manifestExpiry time.Duration
}

// NewGenerateHandler creates the generation handler. snapshots may be nil.
func NewGenerateHandler(manager *generation.Manager, snapshots SnapshotReader, hub *ws.Hub, cancelTimeout time.Duration) *GenerateHandler {
	if cancelTimeout <= 0 {
		cancelTimeout = 10 * time.Second
	}
	return &GenerateHandler{
		manager:       manager,
		snapshots:     snapshots,
		hub:           hub,
		cancelTimeout: cancelTimeout,
	}
}

// WithManifests makes Result link the archived manifest of completed jobs.
// Archiving is asynchronous, so a fresh link may 404 for a few seconds.
func (h *GenerateHandler) WithManifests(signer ManifestSigner, expiry time.Duration) *GenerateHandler {
	if expiry <= 0 {
		expiry = time.Hour
	}
	h.manifests = signer
	h.manifestExpiry = expiry
	return h
}

// Start handles POST /api/generate
// @Summary      Start generation job
// @Description  Validate the request, dispatch it to the first healthy backend and start polling
// @Tags         Generate
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateStartRequest true "Generation request"
// @Success      202 {object} model.GenerateStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate [post]
func (h *GenerateHandler) Start(c *fiber.Ctx) error {
	var req model.GenerateStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	handle, err := h.manager.Submit(c.UserContext(), generation.RawRequest{
		Description:  req.Description,
		Lyrics:       req.Lyrics,
		Instrumental: req.Instrumental,
		StylePreset:  req.StylePreset,
		RequesterID:  middleware.GetRequesterID(c),
	})
	if err != nil {
		var validationErr *generation.ValidationError
		if errors.As(err, &validationErr) {
			return response.ValidationError(c, "Validation failed", validationErr.Fields)
		}
		var dispatchErr *generation.DispatchError
		if errors.As(err, &dispatchErr) {
			return response.DispatchFailed(c, "No generation backend accepted the request", formatDispatchErrors(dispatchErr))
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.GenerateStartResponse{
		JobID:     handle.ID,
		Backend:   handle.BackendName,
		Degraded:  handle.Degraded,
		State:     model.JobStateDispatched,
		CreatedAt: handle.CreatedAt,
	})
}

// Status handles GET /api/generate/status/:jobId
// @Summary      Get generation job status
// @Description  Get the lifecycle state and projected progress of a generation job
// @Tags         Generate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerateStatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/status/{jobId} [get]
func (h *GenerateHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	snap, err := h.lookup(c.UserContext(), jobID, middleware.GetRequesterID(c))
	if err != nil {
		return h.lookupError(c, err)
	}

	progress := h.manager.Project(snap, time.Now())
	return response.OK(c, model.GenerateStatusResponse{
		JobID:     snap.Handle.ID,
		Backend:   snap.Handle.BackendName,
		State:     snap.State,
		Percent:   progress.Percent,
		Message:   progress.Message,
		Degraded:  snap.Handle.Degraded,
		Ended:     progress.Ended,
		Error:     snap.Error,
		UpdatedAt: snap.UpdatedAt,
	})
}

// Result handles GET /api/generate/result/:jobId
// @Summary      Get generation job result
// @Description  Get the normalized tracks of a completed generation job
// @Tags         Generate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerateResultResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/result/{jobId} [get]
func (h *GenerateHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	snap, err := h.lookup(c.UserContext(), jobID, middleware.GetRequesterID(c))
	if err != nil {
		return h.lookupError(c, err)
	}

	if snap.State != model.JobStateCompleted {
		return response.NotComplete(c, "Job not completed yet", fiber.Map{"state": snap.State, "error": snap.Error})
	}

	resp := model.GenerateResultResponse{
		JobID:    snap.Handle.ID,
		Backend:  snap.Handle.BackendName,
		Degraded: snap.Handle.Degraded,
		Tracks:   snap.Tracks,
	}
	if h.manifests != nil {
		url, err := h.manifests.SignedURL(c.UserContext(), client.ManifestKey(snap.Handle.ID), h.manifestExpiry)
		if err != nil {
			log.Printf("[Generate] manifest link for job %s: %v", snap.Handle.ID, err)
		} else {
			resp.ManifestURL = url
		}
	}

	return response.OK(c, resp)
}

// Cancel handles POST /api/generate/cancel/:jobId
// @Summary      Cancel generation job
// @Description  Stop polling a generation job and notify its backend. Idempotent.
// @Tags         Generate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerateCancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/cancel/{jobId} [post]
func (h *GenerateHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	requesterID := middleware.GetRequesterID(c)
	if _, err := h.lookup(c.UserContext(), jobID, requesterID); err != nil {
		return h.lookupError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.cancelTimeout)
	defer cancel()
	if err := h.manager.Cancel(ctx, jobID); err != nil && !errors.Is(err, generation.ErrJobNotFound) {
		return response.ServiceError(c, err.Error())
	}

	snap, err := h.lookup(c.UserContext(), jobID, requesterID)
	if err != nil {
		return h.lookupError(c, err)
	}

	return response.OK(c, model.GenerateCancelResponse{
		Success: snap.State == model.JobStateCancelled,
		JobID:   jobID,
		State:   snap.State,
	})
}

// Watch serves GET /ws/jobs/:jobId. The current state is sent on connect,
// then every transition of the job.
func (h *GenerateHandler) Watch(c *websocket.Conn) {
	jobID := c.Params("jobId")
	requesterID, _ := c.Locals("requesterId").(string)

	snap, err := h.lookup(context.Background(), jobID, requesterID)
	if err != nil {
		msg := model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: jobID,
			Error: model.WSError{Code: response.CodeNotFound, Message: "Job not found"},
		}
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("[WS] %v", err)
		}
		return
	}

	initial := ws.Messages(snap, h.manager.Project(snap, time.Now()))
	h.hub.HandleConnection(c, jobID, initial)
}

// lookup finds a job in memory, then in the snapshot store. Jobs of other
// requesters are reported as not found.
func (h *GenerateHandler) lookup(ctx context.Context, jobID, requesterID string) (model.Snapshot, error) {
	snap, ok := h.manager.Snapshot(jobID)
	if !ok {
		if h.snapshots == nil {
			return model.Snapshot{}, generation.ErrJobNotFound
		}
		var err error
		snap, err = h.snapshots.Get(ctx, jobID)
		if errors.Is(err, store.ErrSnapshotNotFound) {
			return model.Snapshot{}, generation.ErrJobNotFound
		}
		if err != nil {
			return model.Snapshot{}, err
		}
	}
	if snap.Handle.RequesterID != "" && requesterID != "" && snap.Handle.RequesterID != requesterID {
		return model.Snapshot{}, generation.ErrJobNotFound
	}
	return snap, nil
}

func (h *GenerateHandler) lookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, generation.ErrJobNotFound) {
		return response.NotFound(c, "Job not found")
	}
	return response.ServiceError(c, err.Error())
}

// formatDispatchErrors lists why each backend refused the job
func formatDispatchErrors(err *generation.DispatchError) map[string]string {
	details := make(map[string]string, len(err.Attempts))
	for _, a := range err.Attempts {
		switch {
		case a.Skipped:
			details[a.Backend] = "unavailable"
		case a.Err != nil:
			details[a.Backend] = a.Err.Error()
		default:
			details[a.Backend] = "rejected"
		}
	}
	return details
}
