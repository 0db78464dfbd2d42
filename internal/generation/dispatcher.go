package generation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/observability"
)

var errEmptyJobID = errors.New("backend accepted the request but returned no job id")

// Dispatcher submits a request to backends in priority order until one accepts it.
// At most one backend ever owns a job: once a submit succeeds nothing else is tried.
type Dispatcher struct {
	registry *Registry
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over a read-only registry
func NewDispatcher(registry *Registry, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Dispatch returns the handle from the first backend that accepts req, or a
// *DispatchError listing why every candidate was passed over.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.GenerationRequest) (model.JobHandle, error) {
	dispatchErr := &DispatchError{}

	for _, desc := range d.registry.Ordered() {
		if err := ctx.Err(); err != nil {
			dispatchErr.Attempts = append(dispatchErr.Attempts, &BackendAttemptError{Backend: desc.Name, Err: err})
			break
		}

		if desc.CheckHealth && !desc.Backend.HealthCheck(ctx) {
			log.Printf("[Generation] backend %s unhealthy, skipping", desc.Name)
			d.metrics.IncDispatch(desc.Name, "skipped")
			dispatchErr.Attempts = append(dispatchErr.Attempts, &BackendAttemptError{Backend: desc.Name, Skipped: true})
			continue
		}

		externalID, err := desc.Backend.Submit(ctx, req)
		if err == nil && externalID == "" {
			err = errEmptyJobID
		}
		if err != nil {
			log.Printf("[Generation] submit to %s failed: %v", desc.Name, err)
			d.metrics.IncDispatch(desc.Name, "failed")
			dispatchErr.Attempts = append(dispatchErr.Attempts, &BackendAttemptError{Backend: desc.Name, Err: err})
			continue
		}

		d.metrics.IncDispatch(desc.Name, "accepted")
		handle := model.JobHandle{
			ID:          uuid.New().String(),
			ExternalID:  externalID,
			BackendName: desc.Name,
			CreatedAt:   d.now(),
			Degraded:    desc.Degraded,
			RequesterID: req.RequesterID,
		}
		if desc.Degraded {
			log.Printf("[Generation] job %s accepted by degraded backend %s", handle.ID, desc.Name)
		}
		return handle, nil
	}

	return model.JobHandle{}, dispatchErr
}
