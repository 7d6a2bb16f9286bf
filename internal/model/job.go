package model

import "time"

// Job tracks one separation request from acceptance to a terminal state.
// It is replaced as a whole on every update so readers never see a half-written record.
type Job struct {
	ID         string     `json:"id"`
	Status     JobStatus  `json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message"`
	StartTime  time.Time  `json:"startTime"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Project    *Project   `json:"project,omitempty"`
}

// IsTerminal reports whether the job reached completed or error.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Expired reports whether a terminal job is older than the retention window.
func (j *Job) Expired(now time.Time, retention time.Duration) bool {
	return j.IsTerminal() && now.Sub(j.StartTime) > retention
}

// Clone returns a copy safe to hand out to readers. Project is immutable and shared.
func (j *Job) Clone() *Job {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// SeparationTask is the unit of work handed to a dispatcher.
// StartedAt identifies the job generation; a run whose job was superseded stops writing.
type SeparationTask struct {
	JobID       string    `json:"jobId"`
	InputPath   string    `json:"inputPath"`
	OutputDir   string    `json:"outputDir"`
	ProjectName string    `json:"projectName"`
	StartedAt   time.Time `json:"startedAt"`
}

// SeparationStartRequest is the body of POST /api/separate
type SeparationStartRequest struct {
	FileID      string `json:"fileId" validate:"required"`
	ProjectName string `json:"projectName" validate:"required,max=200"`
}

// SeparationStartResponse is returned as soon as the job is accepted
type SeparationStartResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProjectID string `json:"projectId"`
}

// ProgressResponse is the polling view of a job
type ProgressResponse struct {
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"startTime"`
	Project   *Project  `json:"project,omitempty"`
}

// NewProgressResponse builds the polling view; project is only exposed once completed.
func NewProgressResponse(j *Job) *ProgressResponse {
	resp := &ProgressResponse{
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		StartTime: j.StartTime,
	}
	if j.Status == JobStatusCompleted {
		resp.Project = j.Project
	}
	return resp
}
