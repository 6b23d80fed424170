//go:build cgo && sqlite3

package sqlerr

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// SQLite3 extracts detail from mattn/go-sqlite3 errors using the same code
// table as the pure-Go vendor.
func SQLite3(err error) (Detail, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return Detail{}, false
	}
	code := int(se.ExtendedCode)
	if code == 0 {
		code = int(se.Code)
	}
	msg := se.Error()
	return Detail{
		Code:    code,
		State:   SQLiteState(code, msg),
		Message: msg,
	}, true
}
