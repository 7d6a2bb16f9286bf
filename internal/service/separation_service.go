package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/jobstore"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/progress"
	"github.com/stemsplit/api/internal/projectstore"
	"github.com/stemsplit/api/internal/separator"
	"github.com/stemsplit/api/internal/storage"
)

const (
	TaskTypeSeparation = "separation:process"
	QueueSeparation    = "separation"
)

// Job messages shown to clients
const (
	MsgInitializing     = "Initializing..."
	MsgStarted          = "Audio separation started"
	MsgSeparationFailed = "Audio separation failed"
	MsgCompleted        = "Separation completed!"
	MsgProjectFailed    = "Failed to create project"
	MsgQueueFailed      = "Failed to queue separation"
)

const (
	errCodeJobFailed = "JOB_FAILED"

	// SeparatedRoute is where the separated directory is served statically.
	SeparatedRoute = "/separated"
	// UploadsRoute is where the upload directory is served statically.
	UploadsRoute = "/uploads"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrFileNotFound = errors.New("file not found")

	errSuperseded = errors.New("job superseded by a newer request")
)

// JobNotifier receives every job transition. *websocket.Hub implements it.
type JobNotifier interface {
	BroadcastProgress(job *model.Job)
	BroadcastComplete(jobID string, project *model.Project)
	BroadcastError(jobID string, code, message string)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastProgress(*model.Job)             {}
func (noopNotifier) BroadcastComplete(string, *model.Project) {}
func (noopNotifier) BroadcastError(string, string, string)    {}

// SeparationConfig holds the filesystem layout and tool settings of a run.
type SeparationConfig struct {
	UploadDir    string
	SeparatedDir string
	Namespace    string
	Extension    string
	// Timeout bounds a single run; zero means no limit.
	Timeout time.Duration
}

// SeparationService accepts separation requests and drives them to a terminal job state.
type SeparationService struct {
	cfg         SeparationConfig
	jobs        jobstore.Store
	projects    projectstore.Store
	runner      separator.Runner
	prober      separator.Prober
	mirror      *storage.StemMirror
	notifier    JobNotifier
	asynqClient *asynq.Client
	now         func() time.Time
}

// SeparationDeps groups collaborators; Mirror, Notifier and Queue are optional.
type SeparationDeps struct {
	Jobs     jobstore.Store
	Projects projectstore.Store
	Runner   separator.Runner
	Prober   separator.Prober
	Mirror   *storage.StemMirror
	Notifier JobNotifier
	// Queue routes runs through asynq; nil runs them on a local goroutine.
	Queue *asynq.Client
}

func NewSeparationService(cfg SeparationConfig, deps SeparationDeps) *SeparationService {
	if cfg.Namespace == "" {
		cfg.Namespace = "htdemucs"
	}
	if cfg.Extension == "" {
		cfg.Extension = "mp3"
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &SeparationService{
		cfg:         cfg,
		jobs:        deps.Jobs,
		projects:    deps.Projects,
		runner:      deps.Runner,
		prober:      deps.Prober,
		mirror:      deps.Mirror,
		notifier:    notifier,
		asynqClient: deps.Queue,
		now:         time.Now,
	}
}

// ValidateFileID accepts only a plain file name inside the upload directory.
func ValidateFileID(fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return fmt.Errorf("%w: fileId is required", ErrInvalidInput)
	}
	if fileID == "." || fileID == ".." || strings.ContainsAny(fileID, `/\`) || filepath.Base(fileID) != fileID {
		return fmt.Errorf("%w: fileId must be a plain file name", ErrInvalidInput)
	}
	return nil
}

// Start validates the request, registers a processing job and dispatches the
// run. It returns before the separation tool produces any output.
func (s *SeparationService) Start(ctx context.Context, req *model.SeparationStartRequest) (*model.SeparationStartResponse, error) {
	if err := ValidateFileID(req.FileID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		return nil, fmt.Errorf("%w: projectName is required", ErrInvalidInput)
	}

	inputPath := filepath.Join(s.cfg.UploadDir, req.FileID)
	if info, err := os.Stat(inputPath); err != nil || info.IsDir() {
		return nil, ErrFileNotFound
	}

	outputDir := filepath.Join(s.cfg.SeparatedDir, req.FileID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	now := s.now()
	job := &model.Job{
		ID:        req.FileID,
		Status:    model.JobStatusProcessing,
		Progress:  0,
		Message:   MsgInitializing,
		StartTime: now,
	}
	if err := s.jobs.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	s.notifier.BroadcastProgress(job)

	task := &model.SeparationTask{
		JobID:       req.FileID,
		InputPath:   inputPath,
		OutputDir:   outputDir,
		ProjectName: req.ProjectName,
		StartedAt:   now,
	}
	if err := s.dispatch(task); err != nil {
		s.fail(context.Background(), task, MsgQueueFailed)
		return nil, fmt.Errorf("failed to dispatch separation: %w", err)
	}

	log.Info().Str("file_id", req.FileID).Str("project", req.ProjectName).Msg("separation started")
	return &model.SeparationStartResponse{
		Success:   true,
		Message:   MsgStarted,
		ProjectID: req.FileID,
	}, nil
}

func (s *SeparationService) dispatch(task *model.SeparationTask) error {
	if s.asynqClient == nil {
		go func() {
			_ = s.Execute(context.Background(), task)
		}()
		return nil
	}

	t, err := NewSeparationTask(task)
	if err != nil {
		return err
	}
	// single attempt: a failed run is reported through the job, never retried
	_, err = s.asynqClient.Enqueue(t,
		asynq.Queue(QueueSeparation),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour),
	)
	return err
}

// NewSeparationTask wraps a run in the {jobId, payload} asynq envelope.
func NewSeparationTask(task *model.SeparationTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(map[string]interface{}{
		"jobId":   task.JobID,
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSeparation, data), nil
}

// Execute runs the separation tool for task and records the outcome on the
// job. Every failure ends in a terminal job; the returned error is for the caller's logs.
func (s *SeparationService) Execute(ctx context.Context, task *model.SeparationTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job_id", task.JobID).Msg("separation panicked")
			s.fail(context.Background(), task, MsgSeparationFailed)
			err = fmt.Errorf("separation panicked: %v", r)
		}
	}()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	runErr := s.runner.Run(ctx, task.InputPath, task.OutputDir, func(line string) {
		ev, ok := progress.Parse(line)
		if !ok {
			return
		}
		s.applyProgress(ctx, task, ev)
	})
	if runErr != nil {
		log.Error().Err(runErr).Str("job_id", task.JobID).Msg("separation process failed")
		s.fail(ctx, task, MsgSeparationFailed)
		return runErr
	}

	artifacts, err := separator.ValidateArtifacts(task.OutputDir, s.cfg.Namespace, task.JobID, s.cfg.Extension)
	if err != nil {
		log.Error().Err(err).Str("job_id", task.JobID).Msg("separation artifacts invalid")
		s.fail(ctx, task, err.Error())
		return err
	}

	// a newer request for the same file owns the output from here on
	if _, err := s.update(ctx, task, func(*model.Job) error { return nil }); err != nil {
		return err
	}

	s.mirror.MirrorStems(ctx, task.JobID, s.cfg.Namespace, artifacts.ModelDir, artifacts.Stems)

	project := s.buildProject(ctx, task, artifacts)
	if err := s.projects.Create(ctx, project); err != nil {
		log.Error().Err(err).Str("job_id", task.JobID).Msg("failed to persist project")
		s.fail(ctx, task, MsgProjectFailed)
		return err
	}

	job, err := s.update(ctx, task, func(j *model.Job) error {
		finished := s.now()
		j.Status = model.JobStatusCompleted
		j.Progress = 100
		j.Message = MsgCompleted
		j.Project = project
		j.FinishedAt = &finished
		return nil
	})
	if err != nil {
		if delErr := s.projects.Delete(context.Background(), project.ID); delErr != nil {
			log.Warn().Err(delErr).Str("project_id", project.ID).Msg("failed to drop unreferenced project")
		}
		return err
	}

	s.notifier.BroadcastProgress(job)
	s.notifier.BroadcastComplete(task.JobID, project)
	log.Info().Str("job_id", task.JobID).Str("project_id", project.ID).Int("duration", project.Duration).Msg("separation completed")
	return nil
}

func (s *SeparationService) applyProgress(ctx context.Context, task *model.SeparationTask, ev progress.Event) {
	job, err := s.update(ctx, task, func(j *model.Job) error {
		// bag-of-models runs restart their percentage per model
		if ev.Percent > j.Progress {
			j.Progress = ev.Percent
		}
		j.Message = ev.Message
		return nil
	})
	if err != nil {
		return
	}
	s.notifier.BroadcastProgress(job)
}

func (s *SeparationService) buildProject(ctx context.Context, task *model.SeparationTask, a *separator.Artifacts) *model.Project {
	duration := float64(separator.DefaultDuration)
	if d, err := s.prober.Duration(ctx, a.Stems[model.StemVocals]); err != nil {
		log.Warn().Err(err).Str("job_id", task.JobID).Msg("could not extract duration, using fallback")
	} else {
		duration = d
	}

	locator := func(stem model.Stem) string {
		return separator.StemLocator(SeparatedRoute, task.JobID, s.cfg.Namespace, a.ModelDir, stem, s.cfg.Extension)
	}

	return &model.Project{
		ID:             uuid.New().String(),
		Name:           task.ProjectName,
		OriginalFile:   task.JobID,
		OriginalFileID: task.JobID,
		StemURLs: model.NewStemURLs(
			locator(model.StemVocals),
			locator(model.StemDrums),
			locator(model.StemBass),
			locator(model.StemOther),
		),
		Status:    model.ProjectStatusCompleted,
		CreatedAt: s.now().UTC(),
		Duration:  separator.RoundDuration(duration),
	}
}

// update applies fn to the job generation the task belongs to.
func (s *SeparationService) update(ctx context.Context, task *model.SeparationTask, fn jobstore.UpdateFunc) (*model.Job, error) {
	job, err := s.jobs.Update(ctx, task.JobID, func(j *model.Job) error {
		if !j.StartTime.Equal(task.StartedAt) {
			return errSuperseded
		}
		return fn(j)
	})
	if err != nil {
		if errors.Is(err, errSuperseded) || errors.Is(err, jobstore.ErrJobFinalized) || errors.Is(err, jobstore.ErrNotFound) {
			log.Debug().Err(err).Str("job_id", task.JobID).Msg("job update skipped")
		} else {
			log.Error().Err(err).Str("job_id", task.JobID).Msg("job update failed")
		}
		return nil, err
	}
	return job, nil
}

func (s *SeparationService) fail(ctx context.Context, task *model.SeparationTask, message string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	job, err := s.update(ctx, task, func(j *model.Job) error {
		finished := s.now()
		j.Status = model.JobStatusError
		j.Message = message
		j.FinishedAt = &finished
		return nil
	})
	if err != nil {
		return
	}
	s.notifier.BroadcastProgress(job)
	s.notifier.BroadcastError(task.JobID, errCodeJobFailed, message)
}

// Progress returns the current job snapshot.
func (s *SeparationService) Progress(ctx context.Context, fileID string) (*model.ProgressResponse, error) {
	job, err := s.jobs.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return model.NewProgressResponse(job), nil
}
