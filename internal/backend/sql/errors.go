package sql

import (
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrNoObjectClass is returned when an operation cannot resolve its table
var ErrNoObjectClass = errors.New("object class required to resolve table")

const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
)

// convertDBError maps driver errors onto backend errors
func convertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, stdsql.ErrNoRows) {
		return backend.ErrEntryNotFound
	}

	// pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", backend.ErrEntryExists, pgErr.Detail)
		case codeUndefinedTable:
			return fmt.Errorf("%w: %s", backend.ErrEntryNotFound, pgErr.Message)
		}
	}

	// lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", backend.ErrEntryExists, pqErr.Detail)
		case codeUndefinedTable:
			return fmt.Errorf("%w: %s", backend.ErrEntryNotFound, pqErr.Message)
		}
	}

	return err
}
