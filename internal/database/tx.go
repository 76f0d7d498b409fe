package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/qcat/internal/apperror"
)

// Querier is the subset of *sql.DB and *sql.Tx used by repositories, so a
// repository method can run standalone or inside a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Serializable is the isolation used by workflow transitions.
var Serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}
	return nil
}

// MySQL / MariaDB server error numbers we react to.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errLockNowait      = 3572
)

// IsLockConflict reports whether err means a row lock could not be taken:
// NOWAIT refusals (MySQL 3572; MariaDB reports NOWAIT as 1205), lock wait
// timeouts and deadlock victims.
func IsLockConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case errLockNowait, errLockWaitTimeout, errDeadlock:
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a duplicate-key error.
func IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}

// IsUnavailable reports whether err means the store could not be reached at
// all, as opposed to rejecting a statement.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTransient reports whether a failed transaction may succeed when retried.
func IsTransient(err error) bool {
	return IsLockConflict(err) || IsUnavailable(err)
}

// Transactor starts transactions. Services hold a Transactor instead of the
// pool so their tests can run the transaction body against mocks.
type Transactor interface {
	WithTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error
}

type dbTransactor struct {
	db *sql.DB
}

// NewTransactor returns a Transactor backed by the pool.
func NewTransactor(db *sql.DB) Transactor {
	return &dbTransactor{db: db}
}

func (t *dbTransactor) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	return WithTx(ctx, t.db, opts, fn)
}

// StoreError converts a failed store call into an AppError. AppErrors pass
// through, retryable failures become transient errors and anything else is
// internal.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if IsTransient(err) {
		return apperror.NewTransient(err)
	}
	return apperror.NewInternal(err)
}
