package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the addressed row does not exist for the caller.
	ErrNotFound = errors.New("record not found")
	// ErrTransitionConflict is returned when a conditional update touched no rows
	// because the row changed (or disappeared) since it was read.
	ErrTransitionConflict = errors.New("row transition conflict")
	// ErrStoreUnavailable marks connectivity failures of the post store.
	ErrStoreUnavailable = errors.New("post store unavailable")
)

// storeError joins a classification sentinel with the underlying driver error
// so both stay reachable through errors.Is and errors.As.
type storeError struct {
	kind error
	op   string
	err  error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.op, e.kind, e.err)
}

func (e *storeError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// classify wraps err with ErrNotFound or ErrStoreUnavailable when it matches.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &storeError{kind: ErrNotFound, op: op, err: err}
	}
	if IsUnavailable(err) {
		return &storeError{kind: ErrStoreUnavailable, op: op, err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
