package sqlerr

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite extracts detail from modernc.org/sqlite errors. SQLite has no
// SQLSTATE, so one is derived from the extended result code.
func SQLite(err error) (Detail, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return Detail{}, false
	}
	msg := se.Error()
	return Detail{
		Code:    se.Code(),
		State:   SQLiteState(se.Code(), msg),
		Message: msg,
	}, true
}

// SQLiteState derives a SQLSTATE from an SQLite (extended) result code.
// SQLITE_ERROR is refined using the message text, which is the only place
// SQLite distinguishes syntax errors from missing objects.
func SQLiteState(code int, msg string) string {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return StateUniqueViolation
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return StateForeignKeyViolation
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return StateNotNullViolation
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return StateCheckViolation
	}

	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return StateIntegrityConstraint
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return StateSerializationFailure
	case sqlite3.SQLITE_INTERRUPT:
		return StateQueryCanceled
	case sqlite3.SQLITE_READONLY:
		return StateReadOnlyTransaction
	case sqlite3.SQLITE_CANTOPEN:
		return StateUnableToConnect
	case sqlite3.SQLITE_RANGE:
		return StateInvalidDescriptorIndex
	case sqlite3.SQLITE_MISMATCH:
		return StateDatatypeMismatch
	case sqlite3.SQLITE_TOOBIG:
		return StateStringTruncation
	case sqlite3.SQLITE_NOMEM:
		return StateOutOfMemory
	case sqlite3.SQLITE_FULL:
		return StateDiskFull
	case sqlite3.SQLITE_IOERR:
		return StateIOError
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return StateDataCorrupted
	case sqlite3.SQLITE_AUTH:
		return StateInvalidAuthorization
	case sqlite3.SQLITE_PERM:
		return StateInsufficientPrivilege
	case sqlite3.SQLITE_ERROR:
		return sqliteMessageState(msg)
	}
	return StateGeneral
}

func sqliteMessageState(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "syntax error"), strings.Contains(m, "incomplete input"):
		return StateSyntaxError
	case strings.Contains(m, "no such table"):
		return StateUndefinedTable
	case strings.Contains(m, "no such column"):
		return StateUndefinedColumn
	case strings.Contains(m, "no such function"), strings.Contains(m, "wrong number of arguments"):
		return StateUndefinedFunction
	}
	return StateGeneral
}
