package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
)

type executorFunc func(ctx context.Context, task *model.SeparationTask) error

func (f executorFunc) Execute(ctx context.Context, task *model.SeparationTask) error {
	return f(ctx, task)
}

func TestSeparationWorker_ProcessTask(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task, err := service.NewSeparationTask(&model.SeparationTask{
		JobID:       "abc-song.mp3",
		InputPath:   "uploads/abc-song.mp3",
		OutputDir:   "separated/abc-song.mp3",
		ProjectName: "Song",
		StartedAt:   started,
	})
	require.NoError(t, err)
	assert.Equal(t, service.TaskTypeSeparation, task.Type())

	var got *model.SeparationTask
	w := NewSeparationWorker(executorFunc(func(ctx context.Context, task *model.SeparationTask) error {
		got = task
		return nil
	}))

	require.NoError(t, w.ProcessTask(context.Background(), task))
	require.NotNil(t, got)
	assert.Equal(t, "abc-song.mp3", got.JobID)
	assert.Equal(t, "Song", got.ProjectName)
	assert.True(t, started.Equal(got.StartedAt))
}

func TestSeparationWorker_FailuresSkipRetry(t *testing.T) {
	w := NewSeparationWorker(executorFunc(func(ctx context.Context, task *model.SeparationTask) error {
		return errors.New("exit status 1")
	}))

	task, err := service.NewSeparationTask(&model.SeparationTask{JobID: "x.mp3"})
	require.NoError(t, err)
	err = w.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeSeparation, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeSeparation, []byte(`{"jobId":"x","payload":"oops"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
