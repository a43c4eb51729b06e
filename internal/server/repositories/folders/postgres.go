package folders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
)

const columns = `id, name, virtual_path, physical_path, parent_id, created_at, updated_at`

// PostgresRepository implements folder storage over a dbx.DBTX (*sql.DB or *sql.Tx).
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

func scanFolder(s scanner) (*models.Folder, error) {
	var (
		f        models.Folder
		parentID sql.NullString
	)
	if err := s.Scan(&f.ID, &f.Name, &f.VirtualPath, &f.PhysicalPath, &parentID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.String
	}
	return &f, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, op, query string, args ...any) (*models.Folder, error) {
	f, err := scanFolder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, dbx.Classify(op, err)
	}
	return f, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, op, query string, args ...any) ([]*models.Folder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.Classify(op, err)
	}
	defer rows.Close()

	var result []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
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

// Create inserts f. A nil ParentID makes f the root; only one may exist.
func (r *PostgresRepository) Create(ctx context.Context, f *models.Folder) error {
	query := `INSERT INTO folders (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Name, f.VirtualPath, f.PhysicalPath, f.ParentID, f.CreatedAt, f.UpdatedAt)
	return dbx.Classify("insert folder", err)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	query := `SELECT ` + columns + ` FROM folders WHERE id = $1`
	return r.queryOne(ctx, "select folder", query, id)
}

func (r *PostgresRepository) GetRoot(ctx context.Context) (*models.Folder, error) {
	query := `SELECT ` + columns + ` FROM folders WHERE parent_id IS NULL`
	return r.queryOne(ctx, "select root folder", query)
}

func (r *PostgresRepository) GetByVirtualPath(ctx context.Context, virtualPath string) (*models.Folder, error) {
	query := `SELECT ` + columns + ` FROM folders WHERE virtual_path = $1`
	return r.queryOne(ctx, "select folder by path", query, virtualPath)
}

func (r *PostgresRepository) ChildByName(ctx context.Context, parentID, name string) (*models.Folder, error) {
	query := `SELECT ` + columns + ` FROM folders WHERE parent_id = $1 AND name = $2`
	return r.queryOne(ctx, "select child folder", query, parentID, name)
}

// ChildrenOf lists the direct subfolders of parentID in creation order.
func (r *PostgresRepository) ChildrenOf(ctx context.Context, parentID string) ([]*models.Folder, error) {
	query := `SELECT ` + columns + ` FROM folders WHERE parent_id = $1 ORDER BY seq`
	return r.queryMany(ctx, "select child folders", query, parentID)
}

func (r *PostgresRepository) SubtreeOf(ctx context.Context, id string) ([]*models.Folder, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT ` + columns + `, seq, 1 AS depth FROM folders WHERE parent_id = $1
			UNION ALL
			SELECT f.id, f.name, f.virtual_path, f.physical_path, f.parent_id, f.created_at, f.updated_at, f.seq, s.depth + 1
			FROM folders f JOIN subtree s ON f.parent_id = s.id
		)
		SELECT ` + columns + ` FROM subtree ORDER BY depth, seq`
	return r.queryMany(ctx, "select subtree", query, id)
}

func (r *PostgresRepository) AncestorsOf(ctx context.Context, id string) ([]*models.Folder, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT ` + columns + `, 0 AS depth FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id, f.name, f.virtual_path, f.physical_path, f.parent_id, f.created_at, f.updated_at, c.depth + 1
			FROM folders f JOIN chain c ON f.id = c.parent_id
		)
		SELECT ` + columns + ` FROM chain ORDER BY depth DESC`
	chain, err := r.queryMany(ctx, "select ancestors", query, id)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, dbx.Classify("select ancestors", sql.ErrNoRows)
	}
	return chain, nil
}

func (r *PostgresRepository) IsAncestor(ctx context.Context, candidate, id string) (bool, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id FROM folders WHERE id = $2
			UNION ALL
			SELECT f.id, f.parent_id FROM folders f JOIN chain c ON f.id = c.parent_id
		)
		SELECT EXISTS (SELECT 1 FROM chain WHERE id = $1 AND id <> $2)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, candidate, id).Scan(&ok); err != nil {
		return false, dbx.Classify("check ancestry", err)
	}
	return ok, nil
}

// Update rewrites the mutable columns of f. Exactly one row must be affected.
func (r *PostgresRepository) Update(ctx context.Context, f *models.Folder) error {
	query := `
		UPDATE folders
		SET name = $2, virtual_path = $3, physical_path = $4, parent_id = $5, updated_at = $6
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, f.ID, f.Name, f.VirtualPath, f.PhysicalPath, f.ParentID, f.UpdatedAt)
	if err != nil {
		return dbx.Classify("update folder", err)
	}
	return dbx.ExpectOne("update folder", res)
}

// Delete removes one folder row. Children and files must be deleted first.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if dbx.IsForeignKeyViolation(err) {
		return fmt.Errorf("delete folder: %w: folder still has children or files", common.ErrInvariantViolation)
	}
	if err != nil {
		return dbx.Classify("delete folder", err)
	}
	return dbx.ExpectOne("delete folder", res)
}
