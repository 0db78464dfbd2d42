package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/model"
)

// QueueNotifier delivers cancel notifications through asynq so they survive
// a restart. When enqueueing fails it falls back to the direct notifier.
type QueueNotifier struct {
	enqueuer Enqueuer
	fallback generation.CancelNotifier
	now      func() time.Time
	pending  sync.WaitGroup
}

func NewQueueNotifier(enqueuer Enqueuer, fallback generation.CancelNotifier) *QueueNotifier {
	return &QueueNotifier{enqueuer: enqueuer, fallback: fallback, now: time.Now}
}

// NotifyCancel implements generation.CancelNotifier. It returns at once; the
// enqueue runs in the background.
func (n *QueueNotifier) NotifyCancel(handle model.JobHandle) {
	n.pending.Add(1)
	go func() {
		defer n.pending.Done()
		n.enqueue(handle)
	}()
}

// Wait blocks until every pending enqueue has finished
func (n *QueueNotifier) Wait() {
	n.pending.Wait()
}

func (n *QueueNotifier) enqueue(handle model.JobHandle) {
	task, err := NewCancelTask(handle, n.now())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = n.enqueuer.EnqueueContext(ctx, task,
			asynq.Queue(QueueCancel),
			asynq.MaxRetry(3),
			asynq.Timeout(30*time.Second),
			asynq.Retention(time.Hour),
		)
	}
	if err != nil {
		log.Printf("[Worker] failed to enqueue cancel for job %s, notifying directly: %v", handle.ID, err)
		if n.fallback != nil {
			n.fallback.NotifyCancel(handle)
		}
	}
}

// Notifier performs one synchronous cancel notification
type Notifier interface {
	Notify(ctx context.Context, handle model.JobHandle) error
}

// CancelWorker processes generation:cancel tasks
type CancelWorker struct {
	notifier Notifier
}

func NewCancelWorker(notifier Notifier) *CancelWorker {
	return &CancelWorker{notifier: notifier}
}

// ProcessTask notifies the backend. Failures are returned so asynq retries;
// the job itself is already Cancelled either way.
func (w *CancelWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CancelPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal cancel payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Handle.ID == "" || payload.Handle.BackendName == "" {
		return fmt.Errorf("cancel payload without handle: %w", asynq.SkipRetry)
	}

	log.Printf("[Worker] notifying %s of cancelled job %s", payload.Handle.BackendName, payload.Handle.ID)
	if err := w.notifier.Notify(ctx, payload.Handle); err != nil {
		return err
	}
	return nil
}
