package escape

import (
	"strconv"
	"strings"
)

// Dialect describes how a vendor spells the constructs that escapes abstract.
type Dialect struct {
	// Name identifies the dialect in logs and configuration.
	Name string

	// Numbered selects $1, $2, ... placeholders instead of ?.
	Numbered bool

	// CallPrefix is written before the routine invocation of a {call}.
	CallPrefix string

	// TypedLiterals prefixes date and time literals with their SQL type.
	TypedLiterals bool

	// Funcs renames scalar functions. Keys are lower case.
	Funcs map[string]string

	// Niladic replaces argument-less functions with a native expression.
	Niladic map[string]string
}

// SQLite renders escapes for SQLite.
var SQLite = &Dialect{
	Name:       "sqlite",
	CallPrefix: "SELECT ",
	Funcs: map[string]string{
		"ucase":            "upper",
		"lcase":            "lower",
		"substring":        "substr",
		"char_length":      "length",
		"character_length": "length",
		"rand":             "random",
		"truncate":         "trunc",
	},
	Niladic: map[string]string{
		"curdate":           "date('now')",
		"current_date":      "date('now')",
		"curtime":           "time('now')",
		"current_time":      "time('now')",
		"now":               "datetime('now')",
		"current_timestamp": "datetime('now')",
		"pi":                "pi()",
	},
}

// Postgres renders escapes for PostgreSQL.
var Postgres = &Dialect{
	Name:          "postgres",
	Numbered:      true,
	CallPrefix:    "SELECT * FROM ",
	TypedLiterals: true,
	Funcs: map[string]string{
		"ucase":    "upper",
		"lcase":    "lower",
		"ifnull":   "coalesce",
		"rand":     "random",
		"truncate": "trunc",
		"log":      "ln",
		"log10":    "log",
	},
	Niladic: map[string]string{
		"curdate":  "CURRENT_DATE",
		"curtime":  "CURRENT_TIME",
		"now":      "CURRENT_TIMESTAMP",
		"database": "current_database()",
		"user":     "current_user",
	},
}

var dialects = map[string]*Dialect{
	"sqlite":   SQLite,
	"sqlite3":  SQLite,
	"postgres": Postgres,
	"pgx":      Postgres,
}

// DialectFor returns the dialect registered under name, or nil.
func DialectFor(name string) *Dialect {
	return dialects[strings.ToLower(name)]
}

func (d *Dialect) placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d *Dialect) function(name string) string {
	if native, ok := d.Funcs[strings.ToLower(name)]; ok {
		return native
	}
	return name
}
