package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/gradebook/core"
)

var errDuplicate = core.NewConflictError("resource already exists")

// trapErr maps driver errors to core errors:
//   - "no rows" -> notFound
//   - unique constraint violation -> conflict
//   - lost/refused/timed out connection, busy database -> unavailable
//
// any other error is wrapped with msg.
func trapErr(err error, notFound error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		if notFound != nil {
			return notFound
		}
	case isUniqueViolation(err):
		return errDuplicate
	case isUnavailable(err):
		return core.NewUnavailableError(err)
	}
	return errors.Wrap(err, msg)
}

const (
	pqUniqueViolation     = "23505"
	pqConnectionException = "08"
	pqAdminShutdown       = "57P01"
	pqCannotConnectNow    = "57P03"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(strings.ToLower(liteErr.Error()), "unique constraint failed")
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code.Class()) == pqConnectionException ||
			pqErr.Code == pqAdminShutdown ||
			pqErr.Code == pqCannotConnectNow
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		primary := liteErr.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	return false
}
