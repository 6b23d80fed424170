package driver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation is attempted on a closed physical connection.
	ErrNotConnected = errors.New("driver: not connected")
	// ErrUnknownVendor is returned by Lookup for a name that was never registered.
	ErrUnknownVendor = errors.New("driver: unknown vendor")
	// ErrIsolationLevel is returned when the vendor cannot honour a non-default isolation level.
	ErrIsolationLevel = errors.New("driver: isolation level not supported")
	// ErrReadOnly is returned when the vendor cannot start a read-only transaction.
	ErrReadOnly = errors.New("driver: read-only transactions not supported")
)

// OpenError reports a failure to open a physical connection.
type OpenError struct {
	// Vendor is the name of the vendor that failed.
	Vendor string
	// Err is the vendor error.
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("driver: open %s: %v", e.Vendor, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
