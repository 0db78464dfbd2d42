package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/store"
)

// SnapshotLoader reads persisted snapshots
type SnapshotLoader interface {
	Get(ctx context.Context, jobID string) (model.Snapshot, error)
}

// Manifest is the archived record of a completed job
type Manifest struct {
	JobID      string        `json:"jobId"`
	Backend    string        `json:"backend"`
	Degraded   bool          `json:"degraded"`
	CreatedAt  time.Time     `json:"createdAt"`
	ArchivedAt time.Time     `json:"archivedAt"`
	Tracks     []model.Track `json:"tracks"`
}

// ArchiveWorker writes the track manifest of completed jobs to object storage
type ArchiveWorker struct {
	snapshots SnapshotLoader
	objects   client.ObjectStore
	now       func() time.Time
}

func NewArchiveWorker(snapshots SnapshotLoader, objects client.ObjectStore) *ArchiveWorker {
	return &ArchiveWorker{snapshots: snapshots, objects: objects, now: time.Now}
}

// ProcessTask handles generation:archive tasks
func (w *ArchiveWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal archive payload: %w: %w", err, asynq.SkipRetry)
	}

	snap, err := w.snapshots.Get(ctx, payload.JobID)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		return fmt.Errorf("job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if snap.State != model.JobStateCompleted {
		return fmt.Errorf("job %s is %s, not completed: %w", payload.JobID, snap.State, asynq.SkipRetry)
	}

	manifest := Manifest{
		JobID:      snap.Handle.ID,
		Backend:    snap.Handle.BackendName,
		Degraded:   snap.Handle.Degraded,
		CreatedAt:  snap.Handle.CreatedAt,
		ArchivedAt: w.now(),
		Tracks:     snap.Tracks,
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	location, err := w.objects.PutJSON(ctx, client.ManifestKey(snap.Handle.ID), data)
	if err != nil {
		return err
	}
	log.Printf("[Worker] archived %d tracks of job %s to %s", len(snap.Tracks), snap.Handle.ID, location)
	return nil
}

// ArchiveHook enqueues an archive task whenever a job completes
func ArchiveHook(enqueuer Enqueuer) generation.TransitionHook {
	return func(snap model.Snapshot, t model.Transition) {
		if t.To != model.JobStateCompleted {
			return
		}
		task, err := NewArchiveTask(snap.Handle.ID)
		if err != nil {
			log.Printf("[Worker] %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = enqueuer.EnqueueContext(ctx, task,
			asynq.Queue(QueueArchive),
			asynq.MaxRetry(5),
			asynq.Retention(24*time.Hour),
		)
		if err != nil {
			log.Printf("[Worker] failed to enqueue archive for job %s: %v", snap.Handle.ID, err)
		}
	}
}
