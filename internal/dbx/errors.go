package dbx

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	// a malformed UUID id
	codeInvalidTextRepresentation = "22P02"
)

// Classify wraps a database error with the taxonomy sentinel it stands for:
// no rows, a dangling reference or a malformed id is ErrNotFound, unique
// violations are ErrPathConflict, and everything else is ErrTransaction.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if common.IsKnown(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, common.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, common.ErrPathConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, common.ErrNotFound, pgErr.ConstraintName)
		case codeInvalidTextRepresentation:
			return fmt.Errorf("%s: %w: %s", op, common.ErrNotFound, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, common.ErrTransaction, err)
}

// IsForeignKeyViolation reports whether err is a Postgres foreign key violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// ExpectOne turns a RowsAffected result into an error: zero rows is
// ErrNotFound, more than one is an unexpected store state.
func ExpectOne(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w: %w", op, common.ErrTransaction, err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%s: %w", op, common.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: unexpected rows affected: %d", op, common.ErrTransaction, n)
	}
}
