// Package sqlwrap is a delegating wrapper over database/sql/driver vendors.
//
// Every handle forwards to the vendor object it wraps, translates vendor
// failures into one error type that keeps the vendor code and SQLSTATE, and
// refuses use after close instead of reaching a released vendor object.
//
// The module is organized into these packages:
//
//   - [github.com/CaliLuke/go-sqlwrap/adapter]: connection, statement, callable statement, rows and transaction handles, the pooled DataSource and the database/sql driver
//   - [github.com/CaliLuke/go-sqlwrap/sqlerr]: the unified error type, SQLSTATE classification and vendor error extractors
//   - [github.com/CaliLuke/go-sqlwrap/escape]: parsing and translation of {fn}, {call}, {d}, {oj} and other escape syntax
//   - [github.com/CaliLuke/go-sqlwrap/driver]: the vendor registry and physical connections with their statement cache
//   - [github.com/CaliLuke/go-sqlwrap/pool]: the generic physical connection pool
//   - [github.com/CaliLuke/go-sqlwrap/config]: YAML and environment configuration
//   - [github.com/CaliLuke/go-sqlwrap/trace]: named, level-controlled diagnostic components
//   - [github.com/CaliLuke/go-sqlwrap/metrics]: Prometheus collectors
//
// The sqlite and postgres vendors are pure Go; only the optional sqlite3
// vendor requires CGo.
package sqlwrap
