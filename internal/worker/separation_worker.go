package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
)

// Executor runs one separation to completion and records it on the job.
type Executor interface {
	Execute(ctx context.Context, task *model.SeparationTask) error
}

// SeparationWorker processes queued separation jobs
type SeparationWorker struct {
	executor Executor
}

func NewSeparationWorker(executor Executor) *SeparationWorker {
	return &SeparationWorker{executor: executor}
}

// ProcessTask handles separation task processing. Runs are single-attempt:
// the outcome already lives on the job, so errors never ask asynq to retry.
func (w *SeparationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	var task model.SeparationTask
	if err := json.Unmarshal(taskPayload.Payload, &task); err != nil {
		log.Error().Err(err).Str("job_id", taskPayload.JobID).Msg("invalid separation payload")
		return fmt.Errorf("failed to unmarshal separation payload: %v: %w", err, asynq.SkipRetry)
	}
	if task.JobID == "" {
		task.JobID = taskPayload.JobID
	}

	log.Info().Str("job_id", task.JobID).Msg("starting separation job")
	if err := w.executor.Execute(ctx, &task); err != nil {
		return fmt.Errorf("separation %s: %v: %w", task.JobID, err, asynq.SkipRetry)
	}
	return nil
}

// Register binds the worker to its task type on mux.
func (w *SeparationWorker) Register(mux *asynq.ServeMux, taskType string) {
	mux.HandleFunc(taskType, w.ProcessTask)
}
