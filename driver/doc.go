// Package driver holds the physical side of a wrapped connection: the vendor
// registry, the vendor connection handle and its prepared statement cache.
//
// A vendor is any database/sql/driver implementation. The built-in vendors
// are "sqlite" (modernc.org/sqlite) and "postgres" (github.com/lib/pq). The
// cgo-based "sqlite3" vendor (github.com/mattn/go-sqlite3) is available when
// building with: go build -tags "cgo,sqlite3"
package driver
