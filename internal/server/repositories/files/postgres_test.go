package files

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var cols = []string{"id", "name", "mime_type", "size_bytes", "virtual_path", "physical_path", "folder_id", "created_at", "updated_at"}

func sampleFile() *models.File {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.File{
		ID:           "f1",
		Name:         "report.pdf",
		MimeType:     "application/pdf",
		SizeBytes:    42,
		VirtualPath:  "/docs/report.pdf",
		PhysicalPath: "/data/docs/0b7c.pdf",
		FolderID:     "d1",
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	f := sampleFile()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+files\s*\(id, name, mime_type, size_bytes, virtual_path, physical_path, folder_id, created_at, updated_at\)\s*VALUES`).
		WithArgs("f1", "report.pdf", "application/pdf", int64(42), "/docs/report.pdf", "/data/docs/0b7c.pdf", "d1", f.CreatedAt, f.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_NameTaken(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+files`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "files_folder_name_key"})

	err := repo.Create(context.Background(), sampleFile())
	if !errors.Is(err, common.ErrPathConflict) {
		t.Fatalf("want ErrPathConflict, got %v", err)
	}
}

func TestCreate_UnknownFolder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+files`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "files_folder_id_fkey"})

	err := repo.Create(context.Background(), sampleFile())
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+files`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), sampleFile())
	if !errors.Is(err, common.ErrTransaction) || !regexp.MustCompile(`insert file: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped transaction error, got %v", err)
	}
}

func TestGetByID_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	f := sampleFile()

	mock.ExpectQuery(`(?s)^SELECT\s+id, name,.*FROM\s+files\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(f.ID, f.Name, f.MimeType, f.SizeBytes, f.VirtualPath, f.PhysicalPath, f.FolderID, f.CreatedAt, f.UpdatedAt))

	got, err := repo.GetByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got != *f {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+files\s+WHERE\s+id`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetByName(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	f := sampleFile()

	mock.ExpectQuery(`WHERE\s+folder_id\s*=\s*\$1\s+AND\s+name\s*=\s*\$2`).
		WithArgs("d1", "report.pdf").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(f.ID, f.Name, f.MimeType, f.SizeBytes, f.VirtualPath, f.PhysicalPath, f.FolderID, f.CreatedAt, f.UpdatedAt))
	mock.ExpectQuery(`WHERE\s+folder_id\s*=\s*\$1\s+AND\s+name\s*=\s*\$2`).
		WithArgs("d1", "other.pdf").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetByName(context.Background(), "d1", "report.pdf")
	if err != nil || got.ID != "f1" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := repo.GetByName(context.Background(), "d1", "other.pdf"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFilesOf(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	f := sampleFile()

	mock.ExpectQuery(`(?s)WHERE\s+folder_id\s*=\s*\$1\s+ORDER\s+BY\s+seq$`).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("f1", "b.txt", "", int64(1), "/docs/b.txt", "/data/docs/1.txt", "d1", f.CreatedAt, f.UpdatedAt).
			AddRow("f2", "a.txt", "", int64(2), "/docs/a.txt", "/data/docs/2.txt", "d1", f.CreatedAt, f.UpdatedAt))

	got, err := repo.FilesOf(context.Background(), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "f1" || got[1].ID != "f2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFilesOf_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+files`).WithArgs("d1").WillReturnError(errors.New("select-fail"))

	_, err := repo.FilesOf(context.Background(), "d1")
	if !errors.Is(err, common.ErrTransaction) || !regexp.MustCompile(`select files: .*select-fail`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestFilesOf_ScanError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+files`).WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("f1"))

	if _, err := repo.FilesOf(context.Background(), "d1"); err == nil {
		t.Fatal("expected scan error")
	}
}

func TestFilesUnder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	f := sampleFile()

	mock.ExpectQuery(`(?s)WITH\s+RECURSIVE\s+subtree.*folder_id\s+IN\s+\(SELECT\s+id\s+FROM\s+subtree\)`).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("f1", "a.txt", "", int64(1), "/docs/a.txt", "/data/docs/1.txt", "d1", f.CreatedAt, f.UpdatedAt).
			AddRow("f2", "b.txt", "", int64(1), "/docs/sub/b.txt", "/data/docs/sub/2.txt", "d2", f.CreatedAt, f.UpdatedAt))

	got, err := repo.FilesUnder(context.Background(), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].FolderID != "d2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	f := sampleFile()
	q := `(?s)^\s*UPDATE\s+files\s+SET\s+name\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1$`

	mock.ExpectExec(q).
		WithArgs("f1", "report.pdf", "/docs/report.pdf", "/data/docs/0b7c.pdf", "d1", f.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.Update(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Update(context.Background(), f); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := repo.Update(context.Background(), f); err == nil || !regexp.MustCompile(`unexpected rows affected: 2`).MatchString(err.Error()) {
		t.Fatalf("expected unexpected rows error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	q := `^DELETE\s+FROM\s+files\s+WHERE\s+id\s*=\s*\$1$`

	mock.ExpectExec(q).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WithArgs("f1").WillReturnError(errors.New("exec-fail"))

	if err := repo.Delete(context.Background(), "f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Delete(context.Background(), "f1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := repo.Delete(context.Background(), "f1"); !errors.Is(err, common.ErrTransaction) {
		t.Fatalf("want ErrTransaction, got %v", err)
	}
}

func TestDeleteByFolder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	q := `^DELETE\s+FROM\s+files\s+WHERE\s+folder_id\s*=\s*\$1$`

	mock.ExpectExec(q).WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q).WithArgs("d1").WillReturnError(errors.New("exec-fail"))

	n, err := repo.DeleteByFolder(context.Background(), "d1")
	if err != nil || n != 3 {
		t.Fatalf("got %d, %v", n, err)
	}
	if _, err := repo.DeleteByFolder(context.Background(), "d1"); !errors.Is(err, common.ErrTransaction) {
		t.Fatalf("want ErrTransaction, got %v", err)
	}
}
