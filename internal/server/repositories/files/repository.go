package files

import (
	"context"

	"github.com/dmitrijs2005/vdrive/internal/server/models"
)

// Repository persists file records.
type Repository interface {
	Create(ctx context.Context, f *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	GetByName(ctx context.Context, folderID, name string) (*models.File, error)
	// FilesOf lists the files directly inside folderID in upload order.
	FilesOf(ctx context.Context, folderID string) ([]*models.File, error)
	// FilesUnder lists the files of folderID and of all its descendants.
	FilesUnder(ctx context.Context, folderID string) ([]*models.File, error)
	Update(ctx context.Context, f *models.File) error
	Delete(ctx context.Context, id string) error
	// DeleteByFolder removes every file record of folderID and returns how many went.
	DeleteByFolder(ctx context.Context, folderID string) (int64, error)
}
