package sqlerr

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres extracts detail from lib/pq errors. PostgreSQL reports SQLSTATE
// directly and has no separate numeric code.
func Postgres(err error) (Detail, bool) {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return Detail{}, false
	}
	return Detail{
		State:   string(pe.Code),
		Message: pe.Message,
	}, true
}
