package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/stemsplit/api/internal/model"
)

// MemoryStore holds job values in a process-local map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
	opts Options
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]model.Job),
		opts: opts.withDefaults(),
	}
}

func (s *MemoryStore) Put(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = *job.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if job.Expired(s.opts.Now(), s.opts.Retention) {
		s.mu.Lock()
		// only drop the record we read; a new job may have superseded it meanwhile
		if cur, ok := s.jobs[id]; ok && cur.StartTime.Equal(job.StartTime) {
			delete(s.jobs, id)
		}
		s.mu.Unlock()
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.IsTerminal() {
		return nil, ErrJobFinalized
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = *next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Expired(now, maxAge) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
