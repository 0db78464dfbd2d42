package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/orchestrator/internal/model"
)

const (
	TaskTypeCancel  = "generation:cancel"
	TaskTypeArchive = "generation:archive"

	QueueCancel  = "cancel"
	QueueArchive = "archive"
)

// Enqueuer is the part of *asynq.Client used to schedule tasks
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CancelPayload carries the full handle: the job may be gone from memory by
// the time the task runs.
type CancelPayload struct {
	Handle      model.JobHandle `json:"handle"`
	RequestedAt time.Time       `json:"requestedAt"`
}

type ArchivePayload struct {
	JobID string `json:"jobId"`
}

func NewCancelTask(handle model.JobHandle, at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(CancelPayload{Handle: handle, RequestedAt: at})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cancel payload: %w", err)
	}
	return asynq.NewTask(TaskTypeCancel, data), nil
}

func NewArchiveTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(ArchivePayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal archive payload: %w", err)
	}
	return asynq.NewTask(TaskTypeArchive, data), nil
}
