package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row does not exist. Services map it
	// onto the not_found taxonomy kind; repositories never do that
	// themselves.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint refuses an
	// insert (handle, email, token fingerprint).
	ErrDuplicate = errors.New("duplicate")

	// ErrStaleStatus is returned when a compare-and-set on an analysis
	// status matched zero rows: another actor transitioned it first.
	ErrStaleStatus = errors.New("stale status")
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
