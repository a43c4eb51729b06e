package folders

import (
	"context"

	"github.com/dmitrijs2005/vdrive/internal/server/models"
)

// Repository persists folder records. Lookups of absent rows return
// common.ErrNotFound; sibling or path collisions return common.ErrPathConflict.
type Repository interface {
	Create(ctx context.Context, f *models.Folder) error
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	GetRoot(ctx context.Context) (*models.Folder, error)
	GetByVirtualPath(ctx context.Context, virtualPath string) (*models.Folder, error)
	ChildByName(ctx context.Context, parentID, name string) (*models.Folder, error)
	ChildrenOf(ctx context.Context, parentID string) ([]*models.Folder, error)
	// SubtreeOf returns every descendant of id, parents before children.
	SubtreeOf(ctx context.Context, id string) ([]*models.Folder, error)
	// AncestorsOf returns the chain from the root down to id, inclusive.
	AncestorsOf(ctx context.Context, id string) ([]*models.Folder, error)
	// IsAncestor reports whether candidate is a strict ancestor of id.
	IsAncestor(ctx context.Context, candidate, id string) (bool, error)
	Update(ctx context.Context, f *models.Folder) error
	Delete(ctx context.Context, id string) error
}
