package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error taxonomy surfaced to the service layer. Everything here is a
// recoverable outcome for the caller; statement errors outside this set roll
// back the scoped transaction and propagate unchanged.
var (
	// ErrNotFound: the tenant-scoped row is absent or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict: duplicate active issue for a date, or a lock race lost.
	ErrConflict = errors.New("conflict")
	// ErrLocked: mutation attempted on a locked bulletin issue.
	ErrLocked = errors.New("bulletin locked")
	// ErrPrecondition: lock refused while a licensing requirement is unmet.
	ErrPrecondition = errors.New("precondition failed")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
