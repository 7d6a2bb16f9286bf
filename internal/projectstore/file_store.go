package projectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/stemsplit/api/internal/model"
)

// FileStore keeps all projects in a single JSON document, rewritten atomically
// on each change. Suitable for a single API process.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	projects map[string]*model.Project
}

// NewFileStore loads path if it exists. An empty path keeps everything in memory.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, projects: make(map[string]*model.Project)}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var list []*model.Project
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse project file: %w", err)
	}
	for _, p := range list {
		s.projects[p.ID] = p
	}
	return s, nil
}

func (s *FileStore) Create(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[p.ID]; ok {
		return ErrExists
	}
	cp := *p
	s.projects[p.ID] = &cp
	if err := s.flush(); err != nil {
		delete(s.projects, p.ID)
		return err
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *FileStore) List(_ context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(), nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.projects, id)
	if err := s.flush(); err != nil {
		s.projects[id] = p
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) sorted() []*model.Project {
	list := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// flush must be called with mu held.
func (s *FileStore) flush() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal projects: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace project file: %w", err)
	}
	return nil
}
