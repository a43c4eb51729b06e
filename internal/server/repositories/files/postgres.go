package files

import (
	"context"

	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
)

const columns = `id, name, mime_type, size_bytes, virtual_path, physical_path, folder_id, created_at, updated_at`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var f models.File
	if err := s.Scan(&f.ID, &f.Name, &f.MimeType, &f.SizeBytes, &f.VirtualPath, &f.PhysicalPath,
		&f.FolderID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, op, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.Classify(op, err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, dbx.Classify(op, err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.Classify(op, err)
	}
	return result, nil
}

// Create inserts f. A name taken in the same folder is common.ErrPathConflict;
// an unknown folder is common.ErrNotFound.
func (r *PostgresRepository) Create(ctx context.Context, f *models.File) error {
	query := `INSERT INTO files (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Name, f.MimeType, f.SizeBytes, f.VirtualPath, f.PhysicalPath, f.FolderID, f.CreatedAt, f.UpdatedAt)
	return dbx.Classify("insert file", err)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + columns + ` FROM files WHERE id = $1`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbx.Classify("select file", err)
	}
	return f, nil
}

func (r *PostgresRepository) GetByName(ctx context.Context, folderID, name string) (*models.File, error) {
	query := `SELECT ` + columns + ` FROM files WHERE folder_id = $1 AND name = $2`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, folderID, name))
	if err != nil {
		return nil, dbx.Classify("select file by name", err)
	}
	return f, nil
}

func (r *PostgresRepository) FilesOf(ctx context.Context, folderID string) ([]*models.File, error) {
	query := `SELECT ` + columns + ` FROM files WHERE folder_id = $1 ORDER BY seq`
	return r.queryMany(ctx, "select files", query, folderID)
}

func (r *PostgresRepository) FilesUnder(ctx context.Context, folderID string) ([]*models.File, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id
		)
		SELECT ` + columns + ` FROM files WHERE folder_id IN (SELECT id FROM subtree) ORDER BY seq`
	return r.queryMany(ctx, "select files under folder", query, folderID)
}

// Update rewrites the mutable columns of f. Exactly one row must be affected.
func (r *PostgresRepository) Update(ctx context.Context, f *models.File) error {
	query := `
		UPDATE files
		SET name = $2, virtual_path = $3, physical_path = $4, folder_id = $5, updated_at = $6
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, f.ID, f.Name, f.VirtualPath, f.PhysicalPath, f.FolderID, f.UpdatedAt)
	if err != nil {
		return dbx.Classify("update file", err)
	}
	return dbx.ExpectOne("update file", res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return dbx.Classify("delete file", err)
	}
	return dbx.ExpectOne("delete file", res)
}

func (r *PostgresRepository) DeleteByFolder(ctx context.Context, folderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE folder_id = $1`, folderID)
	if err != nil {
		return 0, dbx.Classify("delete folder files", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbx.Classify("delete folder files", err)
	}
	return n, nil
}
