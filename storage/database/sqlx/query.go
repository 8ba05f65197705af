// Package sqlxrepos implements the repositories on top of jmoiron/sqlx.
// Queries are written with `?` placeholders and rebound for the driver in use,
// so the same statements serve postgres and sqlite.
package sqlxrepos

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

func init() {
	// sqlx does not know modernc's driver name
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// where accumulates AND-ed conditions.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// in adds "col IN (...)"; an empty list does not filter.
func (w *where) in(col string, ids []int64) {
	if len(ids) > 0 {
		w.add(col+" IN (?)", ids)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// selectWhere runs "base WHERE ... suffix", expanding IN lists.
func selectWhere(ctx context.Context, db *sqlx.DB, dest interface{}, base string, w *where, suffix string) error {
	q, args, err := sqlx.In(base+w.String()+suffix, w.args...)
	if err != nil {
		return errors.Wrap(err, "expanding query")
	}
	return db.SelectContext(ctx, dest, db.Rebind(q), args...)
}

// insert runs an INSERT ... RETURNING id statement and returns the new id.
func insert(ctx context.Context, db *sqlx.DB, q string, args ...interface{}) (int64, error) {
	var id int64
	err := db.QueryRowxContext(ctx, db.Rebind(q+" RETURNING id"), args...).Scan(&id)
	return id, err
}

// execOne runs a statement which must affect exactly one row; notFound is returned otherwise.
func execOne(ctx context.Context, db *sqlx.DB, notFound error, msg string, q string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, db.Rebind(q), args...)
	if err != nil {
		return trapErr(err, notFound, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trapErr(err, notFound, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
