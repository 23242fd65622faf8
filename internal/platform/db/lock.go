package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// lockNotAvailable is the SQLSTATE Postgres raises when a
// FOR UPDATE NOWAIT query finds the row held by another transaction.
const lockNotAvailable = "55P03"

// IsLockNotAvailable reports whether err is the 55P03 row lock error.
// Repositories map it to a retriable domain error so posting loops can
// back off and try again instead of queueing on the lock.
func IsLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}
