// Package projectstore persists completed separation projects.
package projectstore

import (
	"context"
	"errors"

	"github.com/stemsplit/api/internal/model"
)

var (
	ErrNotFound = errors.New("project not found")
	ErrExists   = errors.New("project already exists")
)

// Store holds immutable project records.
type Store interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id string) (*model.Project, error)
	// List returns projects newest first.
	List(ctx context.Context) ([]*model.Project, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
