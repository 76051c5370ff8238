package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyRolledUp     = errors.New("already rolled up")
	ErrBacklinkMismatch    = errors.New("backlink touched a different number of rows than selected")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateCategory   = errors.New("category already exists")
	ErrTooManyCategories   = errors.New("too many active categories")
	ErrInactiveCategory    = errors.New("category is inactive")
)

// postgres SQLSTATEs worth another attempt: connection exceptions (08xxx),
// serialization failure, deadlock, admin shutdown.
var transientPgCodes = []string{"40001", "40P01", "57P01"}

// IsTransient reports whether err is a storage failure that may succeed when
// the same unit of work is retried: lock contention, serialization conflicts,
// dropped connections and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		for _, code := range transientPgCodes {
			if pgErr.Code == code {
				return true
			}
		}
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
