package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/folders"
)

// RepositoryManager vends repositories bound to a pool or a transaction and
// owns the schema.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Folders(db dbx.DBTX) folders.Repository
	Files(db dbx.DBTX) files.Repository
}
