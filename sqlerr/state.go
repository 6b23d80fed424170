package sqlerr

// SQLSTATE values produced or recognized by this package.
const (
	StateWrongParameterCount    = "07001"
	StateInvalidDescriptorIndex = "07009"
	StateUnableToConnect        = "08001"
	StateConnectionDoesNotExist = "08003"
	StateConnectionFailure      = "08006"
	StateFeatureNotSupported    = "0A000"
	StateStringTruncation       = "22001"
	StateInvalidDatetimeFormat  = "22007"
	StateInvalidCharacterValue  = "22018"
	StateNumericOutOfRange      = "22003"
	StateIntegrityConstraint    = "23000"
	StateNotNullViolation       = "23502"
	StateForeignKeyViolation    = "23503"
	StateUniqueViolation        = "23505"
	StateCheckViolation         = "23514"
	StateInvalidCursorState     = "24000"
	StateReadOnlyTransaction    = "25006"
	StateInvalidAuthorization   = "28000"
	StateSerializationFailure   = "40001"
	StateInsufficientPrivilege  = "42501"
	StateSyntaxError            = "42601"
	StateUndefinedTable         = "42P01"
	StateUndefinedColumn        = "42703"
	StateDatatypeMismatch       = "42804"
	StateUndefinedFunction      = "42883"
	StateDiskFull               = "53100"
	StateOutOfMemory            = "53200"
	StateQueryCanceled          = "57014"
	StateIOError                = "58030"
	StateDataCorrupted          = "XX001"
	StateGeneral                = "HY000"
	StateFunctionSequence       = "HY010"
	StateTimeout                = "HYT00"
)

// Category is the product-level classification of a failure, derived from its
// SQLSTATE. It is what callers branch on instead of vendor codes.
type Category string

const (
	CategoryStaleConnection     Category = "STALE_CONNECTION"
	CategoryDuplicateKey        Category = "DUPLICATE_KEY"
	CategoryIntegrity           Category = "INTEGRITY_CONSTRAINT"
	CategoryDataException       Category = "DATA_EXCEPTION"
	CategorySyntax              Category = "SYNTAX_OR_ACCESS_RULE"
	CategoryTransactionRollback Category = "TRANSACTION_ROLLBACK"
	CategoryTimeout             Category = "TIMEOUT"
	CategoryNotSupported        Category = "FEATURE_NOT_SUPPORTED"
	CategoryObjectClosed        Category = "OBJECT_CLOSED"
	CategoryInvalidState        Category = "INVALID_STATE"
	CategoryAuthorization       Category = "AUTHORIZATION"
	CategoryResource            Category = "INSUFFICIENT_RESOURCES"
	CategoryInternal            Category = "INTERNAL"
	CategoryOther               Category = "OTHER"
)

// Class returns the two character class of a SQLSTATE, or "" if state is too short.
func Class(state string) string {
	if len(state) < 2 {
		return ""
	}
	return state[:2]
}

// Classify maps a SQLSTATE to its Category.
func Classify(state string) Category {
	switch state {
	case StateUniqueViolation:
		return CategoryDuplicateKey
	case StateQueryCanceled, StateTimeout, "HYT01":
		return CategoryTimeout
	case StateFunctionSequence:
		return CategoryInvalidState
	case StateInsufficientPrivilege:
		return CategoryAuthorization
	}

	switch Class(state) {
	case "08":
		return CategoryStaleConnection
	case "23":
		return CategoryIntegrity
	case "22":
		return CategoryDataException
	case "42", "07":
		return CategorySyntax
	case "40":
		return CategoryTransactionRollback
	case "0A":
		return CategoryNotSupported
	case "24", "25":
		return CategoryInvalidState
	case "28":
		return CategoryAuthorization
	case "53", "54", "58":
		return CategoryResource
	case "XX":
		return CategoryInternal
	}
	return CategoryOther
}

// Retryable reports whether failures in this category may succeed when the
// whole unit of work is repeated. The wrapper itself never retries.
func (c Category) Retryable() bool {
	switch c {
	case CategoryStaleConnection, CategoryTransactionRollback, CategoryTimeout, CategoryResource:
		return true
	}
	return false
}
