//go:build cgo && sqlite3

package driver

import (
	"github.com/mattn/go-sqlite3"

	"github.com/CaliLuke/go-sqlwrap/escape"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

func init() {
	Register(&Vendor{
		Name:    "sqlite3",
		Driver:  &sqlite3.SQLiteDriver{},
		Dialect: escape.SQLite,
		Extract: sqlerr.SQLite3,
	})
}
