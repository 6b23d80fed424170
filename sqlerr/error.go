// Package sqlerr defines the unified error type returned by every wrapper and
// the mapper that translates vendor driver errors into it.
package sqlerr

import (
	"errors"
	"fmt"

	platform "github.com/jmgilman/go/errors"
)

// Kind distinguishes where an Error originated.
type Kind int

const (
	// KindVendor is a failure reported by the vendor driver.
	KindVendor Kind = iota
	// KindClosed is a use-after-close detected by a wrapper. It is a programming error.
	KindClosed
	// KindUnsupported is an operation the wrapped vendor cannot perform.
	KindUnsupported
	// KindConversion is a value that could not be converted to the requested type.
	KindConversion
	// KindUsage is an API call that is invalid in the wrapper's current state,
	// such as an out-of-range parameter index.
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindVendor:
		return "vendor"
	case KindClosed:
		return "closed"
	case KindUnsupported:
		return "unsupported"
	case KindConversion:
		return "conversion"
	case KindUsage:
		return "usage"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	// ErrClosed matches (via errors.Is) every use-after-close Error.
	ErrClosed = errors.New("sqlwrap: object closed")
	// ErrNotSupported matches every KindUnsupported Error.
	ErrNotSupported = errors.New("sqlwrap: not supported")
)

// Error is the translated failure returned across the wrapper boundary.
// It carries the vendor's error code and SQLSTATE unchanged.
//
// Error satisfies platform.PlatformError, so platform.IsRetryable and
// platform.GetCode work on any error returned by this module.
type Error struct {
	op       string
	resource string
	kind     Kind
	state    string
	code     int
	msg      string
	cause    error
}

var _ platform.PlatformError = (*Error)(nil)

// Error returns "sqlwrap: <resource> <op>: [<state>/<code>] <message>".
func (e *Error) Error() string {
	prefix := "sqlwrap: "
	if e.resource != "" {
		prefix += e.resource + " "
	}
	if e.op != "" {
		prefix += e.op + ": "
	}
	if e.code != 0 {
		return fmt.Sprintf("%s[%s/%d] %s", prefix, e.state, e.code, e.msg)
	}
	return fmt.Sprintf("%s[%s] %s", prefix, e.state, e.msg)
}

// Op returns the wrapper operation that failed.
func (e *Error) Op() string { return e.op }

// Resource returns the wrapper type that failed ("connection", "statement", ...).
func (e *Error) Resource() string { return e.resource }

// Kind returns where the error originated.
func (e *Error) Kind() Kind { return e.kind }

// SQLState returns the SQLSTATE reported by the vendor or synthesized locally.
func (e *Error) SQLState() string { return e.state }

// VendorCode returns the vendor-specific error code, 0 if the vendor has none.
func (e *Error) VendorCode() int { return e.code }

// Message returns the vendor (or local) message without decoration.
func (e *Error) Message() string { return e.msg }

// Unwrap returns the vendor error.
func (e *Error) Unwrap() error { return e.cause }

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrClosed:
		return e.kind == KindClosed
	case ErrNotSupported:
		return e.kind == KindUnsupported
	}
	return false
}

// Category returns the product classification of the error.
func (e *Error) Category() Category {
	if e.kind == KindClosed {
		return CategoryObjectClosed
	}
	return Classify(e.state)
}

// Code returns the platform error code for the error's category.
func (e *Error) Code() platform.ErrorCode {
	switch e.Category() {
	case CategoryStaleConnection, CategoryResource:
		return platform.CodeUnavailable
	case CategoryDuplicateKey:
		return platform.CodeAlreadyExists
	case CategoryIntegrity, CategoryTransactionRollback:
		return platform.CodeConflict
	case CategoryDataException, CategorySyntax:
		return platform.CodeInvalidInput
	case CategoryTimeout:
		return platform.CodeTimeout
	case CategoryNotSupported:
		return platform.CodeNotImplemented
	case CategoryAuthorization:
		if Class(e.state) == "28" {
			return platform.CodeUnauthorized
		}
		return platform.CodeForbidden
	case CategoryObjectClosed, CategoryInvalidState, CategoryInternal:
		return platform.CodeInternal
	}
	return platform.CodeDatabase
}

// Classification reports whether repeating the unit of work may succeed.
func (e *Error) Classification() platform.ErrorClassification {
	if e.Category().Retryable() {
		return platform.ClassificationRetryable
	}
	return platform.ClassificationPermanent
}

// Context returns the diagnostic fields of the error as a fresh map.
func (e *Error) Context() map[string]interface{} {
	ctx := map[string]interface{}{
		"sql_state": e.state,
		"category":  string(e.Category()),
		"kind":      e.kind.String(),
	}
	if e.code != 0 {
		ctx["error_code"] = e.code
	}
	if e.op != "" {
		ctx["op"] = e.op
	}
	if e.resource != "" {
		ctx["resource"] = e.resource
	}
	return ctx
}

// Closed builds the use-after-close error for resource. Connections and data
// sources report 08003, every other resource HY010.
func Closed(resource, op string) *Error {
	state := StateFunctionSequence
	switch resource {
	case "connection", "data source":
		state = StateConnectionDoesNotExist
	}
	return &Error{
		op:       op,
		resource: resource,
		kind:     KindClosed,
		state:    state,
		msg:      resource + " is closed",
		cause:    ErrClosed,
	}
}

// Unsupported builds the error returned when the vendor lacks feature.
func Unsupported(resource, op, feature string) *Error {
	return &Error{
		op:       op,
		resource: resource,
		kind:     KindUnsupported,
		state:    StateFeatureNotSupported,
		msg:      feature + " is not supported",
		cause:    ErrNotSupported,
	}
}

// Conversion builds a data conversion error with the given SQLSTATE.
func Conversion(resource, op, state string, cause error) *Error {
	msg := "conversion failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		op:       op,
		resource: resource,
		kind:     KindConversion,
		state:    state,
		msg:      msg,
		cause:    cause,
	}
}

// Usage builds the error for an invalid call sequence or parameter index.
func Usage(resource, op, state, msg string) *Error {
	return &Error{
		op:       op,
		resource: resource,
		kind:     KindUsage,
		state:    state,
		msg:      msg,
	}
}

// New builds a vendor-kind error from an already extracted detail. Mapper
// implementations and test fakes use it; wrappers go through Mapper.Map.
func New(resource, op string, d Detail, cause error) *Error {
	state := d.State
	if state == "" {
		state = StateGeneral
	}
	msg := d.Message
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		op:       op,
		resource: resource,
		kind:     KindVendor,
		state:    state,
		code:     d.Code,
		msg:      msg,
		cause:    cause,
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// State returns the SQLSTATE of err, or "" when err carries none.
func State(err error) string {
	if e, ok := As(err); ok {
		return e.state
	}
	var s interface{ SQLState() string }
	if errors.As(err, &s) {
		return s.SQLState()
	}
	return ""
}
