// Package jobstore keeps separation job records keyed by upload id.
//
// Every mutation replaces the whole record, so a reader always observes a
// consistent status/progress/message/project tuple. Terminal jobs are frozen:
// Update on a completed or failed job returns ErrJobFinalized.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/stemsplit/api/internal/model"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrJobFinalized = errors.New("job already finished")
)

// DefaultRetention is how long a terminal job stays visible, measured from its start.
const DefaultRetention = 5 * time.Minute

// UpdateFunc mutates a private copy of the job. Returning an error aborts the update.
type UpdateFunc func(job *model.Job) error

// Store is the job record store shared by the orchestrator and the API.
type Store interface {
	// Put inserts or supersedes the record with job.ID.
	Put(ctx context.Context, job *model.Job) error
	// Get returns a snapshot. A terminal record past retention is returned
	// one last time and then removed.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update applies fn atomically and returns the stored result.
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Job, error)
	Delete(ctx context.Context, id string) error
	// Sweep removes terminal records whose start is older than maxAge and
	// reports how many were removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// Options shared by the store implementations
type Options struct {
	Retention time.Duration
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
