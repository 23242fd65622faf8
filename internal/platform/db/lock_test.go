package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsLockNotAvailable(t *testing.T) {
	locked := &pgconn.PgError{Code: "55P03", Message: "could not obtain lock on row"}
	if !IsLockNotAvailable(locked) {
		t.Error("55P03 not recognized")
	}
	if !IsLockNotAvailable(fmt.Errorf("lock line item: %w", locked)) {
		t.Error("wrapped 55P03 not recognized")
	}
	if IsLockNotAvailable(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation misread as lock contention")
	}
	if IsLockNotAvailable(errors.New("plain")) {
		t.Error("plain error misread as lock contention")
	}
	if IsLockNotAvailable(nil) {
		t.Error("nil misread as lock contention")
	}
}
