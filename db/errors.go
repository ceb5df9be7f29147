package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Sentinel errors. Every driver error the mapper recognises wraps one of
// these, so callers test with errors.Is or the Is* helpers and never see a
// driver type.
var (
	ErrNotFound            = errors.New("parkd/db: record not found")
	ErrDuplicateKey        = errors.New("parkd/db: duplicate key")
	ErrForeignKeyViolation = errors.New("parkd/db: foreign key violation")
	ErrCheckViolation      = errors.New("parkd/db: check constraint violation")

	// ErrDeadlock also covers SQLite staying locked past the busy timeout.
	ErrDeadlock      = errors.New("parkd/db: deadlock detected")
	ErrSerialization = errors.New("parkd/db: serialization failure")
	ErrTimeout       = errors.New("parkd/db: query timeout")
	ErrConnection    = errors.New("parkd/db: connection failed")
)

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool        { return errors.Is(err, ErrDuplicateKey) }
func IsForeignKeyViolation(err error) bool { return errors.Is(err, ErrForeignKeyViolation) }
func IsCheckViolation(err error) bool      { return errors.Is(err, ErrCheckViolation) }
func IsDeadlock(err error) bool            { return errors.Is(err, ErrDeadlock) }
func IsTimeout(err error) bool             { return errors.Is(err, ErrTimeout) }

// IsTransient reports whether rerunning the whole transaction may succeed.
func IsTransient(err error) bool {
	return IsDeadlock(err) || errors.Is(err, ErrSerialization)
}

// Error pairs a sentinel with the driver error it was mapped from.
// errors.Is matches the sentinel; errors.As reaches the driver error.
type Error struct {
	Sentinel error
	Cause    error
}

func (e *Error) Error() string        { return fmt.Sprintf("%v: %v", e.Sentinel, e.Cause) }
func (e *Error) Is(target error) bool { return e.Sentinel == target }
func (e *Error) Unwrap() error        { return e.Cause }

func wrap(sentinel, cause error) error { return &Error{Sentinel: sentinel, Cause: cause} }

// ErrorMapper translates driver errors into the sentinels above. Errors it
// does not recognise are returned unchanged.
type ErrorMapper interface {
	Map(err error) error
}

// ErrorMapperFunc adapts a function to ErrorMapper.
type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// DefaultErrorMapper understands lib/pq, go-sql-driver/mysql and
// go-sqlite3, whichever one produced the error.
func DefaultErrorMapper() ErrorMapper { return ErrorMapperFunc(mapDriverError) }

func mapDriverError(err error) error {
	var mapped *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &mapped):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return wrap(ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return wrap(ErrTimeout, err)
	}
	for _, classify := range []func(error) error{classifyPostgres, classifyMySQL, classifySQLite} {
		if sentinel := classify(err); sentinel != nil {
			return wrap(sentinel, err)
		}
	}
	return err
}

// ── postgres ─────────────────────────────────────────────────────────────────

// SQLSTATE classes and codes from the PostgreSQL errcodes appendix.
var pgStates = map[string]error{
	"23505": ErrDuplicateKey,
	"23503": ErrForeignKeyViolation,
	"23514": ErrCheckViolation,
	"40P01": ErrDeadlock,
	"40001": ErrSerialization,
	"57014": ErrTimeout,
}

func classifyPostgres(err error) error {
	var state string
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		state = string(pqe.Code)
	} else {
		// Only the text survives once the error has been re-wrapped with %v.
		_, rest, ok := strings.Cut(err.Error(), "(SQLSTATE ")
		if !ok {
			return nil
		}
		state, _, _ = strings.Cut(rest, ")")
	}
	if sentinel, ok := pgStates[state]; ok {
		return sentinel
	}
	if strings.HasPrefix(state, "08") {
		return ErrConnection
	}
	return nil
}

// ── mysql ────────────────────────────────────────────────────────────────────

var mysqlNumbers = map[uint16]error{
	1062: ErrDuplicateKey,        // ER_DUP_ENTRY
	1216: ErrForeignKeyViolation, // ER_NO_REFERENCED_ROW
	1217: ErrForeignKeyViolation, // ER_ROW_IS_REFERENCED
	1451: ErrForeignKeyViolation, // ER_ROW_IS_REFERENCED_2
	1452: ErrForeignKeyViolation, // ER_NO_REFERENCED_ROW_2
	3819: ErrCheckViolation,      // ER_CHECK_CONSTRAINT_VIOLATED
	1213: ErrDeadlock,            // ER_LOCK_DEADLOCK
	1205: ErrSerialization,       // ER_LOCK_WAIT_TIMEOUT
	3024: ErrTimeout,             // ER_QUERY_TIMEOUT
	1045: ErrConnection,
	2002: ErrConnection,
	2003: ErrConnection,
	2006: ErrConnection,
	2013: ErrConnection,
}

func classifyMySQL(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return mysqlNumbers[me.Number]
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return ErrConnection
	}
	return nil
}

// ── sqlite3 ──────────────────────────────────────────────────────────────────

// sqliteMessages matches errors that lost their sqlite3.Error type.
var sqliteMessages = []struct {
	substr   string
	sentinel error
}{
	{"UNIQUE constraint failed", ErrDuplicateKey},
	{"FOREIGN KEY constraint failed", ErrForeignKeyViolation},
	{"CHECK constraint failed", ErrCheckViolation},
	{"database is locked", ErrDeadlock},
}

func classifySQLite(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		msg := err.Error()
		for _, m := range sqliteMessages {
			if strings.Contains(msg, m.substr) {
				return m.sentinel
			}
		}
		return nil
	}
	switch {
	case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return ErrDuplicateKey
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return ErrForeignKeyViolation
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		return ErrCheckViolation
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return ErrDeadlock
	}
	return nil
}
