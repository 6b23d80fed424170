package sqlerr

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/CaliLuke/go-sqlwrap/trace"
)

// Detail is the vendor classification of a failure.
type Detail struct {
	// Code is the vendor error number (0 when the vendor has none).
	Code int
	// State is the SQLSTATE; empty means the vendor did not report one.
	State string
	// Message is the vendor message.
	Message string
}

// Extractor pulls a Detail out of a vendor error. It reports false when err
// is not one of the vendor's error types.
type Extractor func(err error) (Detail, bool)

// Chain returns an Extractor that tries each extractor in order.
func Chain(extractors ...Extractor) Extractor {
	return func(err error) (Detail, bool) {
		for _, x := range extractors {
			if x == nil {
				continue
			}
			if d, ok := x(err); ok {
				return d, true
			}
		}
		return Detail{}, false
	}
}

// Mapper translates vendor errors for one wrapper type.
type Mapper struct {
	// Tracer receives the debug record for each translated error.
	Tracer *trace.Component
	// Resource names the wrapper type in translated errors.
	Resource string
	// Extract pulls vendor detail; nil falls back to a generic HY000 detail.
	Extract Extractor
}

// Map translates err raised by the vendor during op.
//
// nil stays nil. Control-flow sentinels of the driver contract (io.EOF,
// driver.ErrSkip, driver.ErrBadConn, driver.ErrRemoveArgument and context
// errors) and errors that are already translated are returned unchanged.
// Everything else becomes a *Error that keeps the vendor code and SQLSTATE.
func (m Mapper) Map(op string, err error) error {
	if err == nil || IsSentinel(err) {
		return err
	}
	if _, ok := As(err); ok {
		return err
	}

	d, ok := Detail{}, false
	if m.Extract != nil {
		d, ok = m.Extract(err)
	}
	if !ok {
		d = Detail{State: stateOf(err), Message: err.Error()}
	}

	if m.Tracer != nil && m.Tracer.IsDebugEnabled() {
		m.Tracer.Debug(op, "vendor error",
			zap.String("sql_state", d.State),
			zap.Int("error_code", d.Code),
			zap.Error(err))
	}
	return New(m.Resource, op, d, err)
}

// IsSentinel reports whether err is a control-flow error that must cross the
// wrapper boundary untranslated.
func IsSentinel(err error) bool {
	switch {
	case err == io.EOF,
		errors.Is(err, driver.ErrSkip),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, driver.ErrRemoveArgument),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// IsStale reports whether err means the physical connection is no longer usable.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if e, ok := As(err); ok {
		return e.kind == KindVendor && e.Category() == CategoryStaleConnection
	}
	return false
}

// stateOf recovers a SQLSTATE from errors that expose one through the common
// SQLState() method even when no extractor recognizes them.
func stateOf(err error) string {
	var s interface{ SQLState() string }
	if errors.As(err, &s) {
		return s.SQLState()
	}
	return StateGeneral
}
