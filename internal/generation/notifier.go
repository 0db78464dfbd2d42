package generation

import (
	"context"
	"log"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/observability"
)

// CancelNotifier delivers the fire-and-forget cancel notification to the
// owning backend. Implementations must not block the caller.
type CancelNotifier interface {
	NotifyCancel(handle model.JobHandle)
}

// DirectNotifier calls Backend.Cancel in its own goroutine with a short
// bounded backoff. Failures are logged as *CancellationError and dropped.
type DirectNotifier struct {
	registry   *Registry
	metrics    *observability.Metrics
	timeout    time.Duration
	maxRetries uint64
	baseDelay  time.Duration
}

func NewDirectNotifier(registry *Registry, metrics *observability.Metrics, timeout time.Duration) *DirectNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DirectNotifier{
		registry:   registry,
		metrics:    metrics,
		timeout:    timeout,
		maxRetries: 2,
		baseDelay:  200 * time.Millisecond,
	}
}

func (n *DirectNotifier) NotifyCancel(handle model.JobHandle) {
	go func() {
		if err := n.Notify(context.Background(), handle); err != nil {
			log.Printf("[Generation] %v", err)
		}
	}()
}

// Notify performs the notification synchronously.
func (n *DirectNotifier) Notify(ctx context.Context, handle model.JobHandle) error {
	desc, ok := n.registry.Lookup(handle.BackendName)
	if !ok {
		return &CancellationError{Backend: handle.BackendName, JobID: handle.ID, Err: ErrNoBackends}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := desc.Backend.Cancel(ctx, handle); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		n.metrics.IncCancel(desc.Name, "failed")
		return &CancellationError{Backend: desc.Name, JobID: handle.ID, Err: err}
	}

	n.metrics.IncCancel(desc.Name, "delivered")
	return nil
}
