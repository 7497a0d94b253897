// Package errs defines the closed set of error kinds surfaced to clients,
// each carrying a PostgreSQL SQLSTATE so the wire boundary can format a
// correct ErrorResponse without knowing engine internals.
package errs

import "fmt"

// Kind is one of the error kinds enumerated in the system's error handling
// design. It is a closed set: new failure modes should map onto an existing
// kind rather than grow this list casually.
type Kind string

const (
	SyntaxError       Kind = "SyntaxError"
	TypeError         Kind = "TypeError"
	UndefinedTable    Kind = "UndefinedTable"
	UndefinedColumn   Kind = "UndefinedColumn"
	UndefinedFunction Kind = "UndefinedFunction"
	NotNullViolation  Kind = "NotNullViolation"
	UniqueViolation   Kind = "UniqueViolation"
	CheckViolation    Kind = "CheckViolation"
	ForeignKeyViolation Kind = "ForeignKeyViolation"
	DependencyError   Kind = "DependencyError"
	CardinalityError  Kind = "CardinalityError"
	ViewCycle         Kind = "ViewCycle"
	PermissionDenied  Kind = "PermissionDenied"
	AuthError         Kind = "AuthError"
	Conflict          Kind = "Conflict"
	Timeout           Kind = "Timeout"
	RecursionLimit    Kind = "RecursionLimit"
	Internal          Kind = "Internal"
)

// sqlState maps each Kind to the PostgreSQL SQLSTATE code a client expects.
var sqlState = map[Kind]string{
	SyntaxError:         "42601",
	TypeError:           "42804",
	UndefinedTable:      "42P01",
	UndefinedColumn:     "42703",
	UndefinedFunction:   "42883",
	NotNullViolation:    "23502",
	UniqueViolation:     "23505",
	CheckViolation:      "23514",
	ForeignKeyViolation: "23503",
	DependencyError:     "2BP01",
	CardinalityError:    "21000",
	ViewCycle:           "42P17",
	PermissionDenied:    "42501",
	AuthError:           "28P01",
	Conflict:            "40001",
	Timeout:             "57014",
	RecursionLimit:      "54001",
	Internal:            "XX000",
}

// Error is the single structured error type raised anywhere in the engine.
// It mirrors the teacher's ValidationError shape (entity/name/field/message)
// but closes the "entity" field down to a fixed Kind enum and adds the
// SQLSTATE the wire boundary needs.
type Error struct {
	Kind    Kind
	Object  string // table/column/constraint name the error concerns, if any
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Object != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Object)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// SQLState returns the PostgreSQL error code for e's Kind.
func (e *Error) SQLState() string {
	if s, ok := sqlState[e.Kind]; ok {
		return s
	}
	return sqlState[Internal]
}

// Retryable reports whether the client may safely retry the statement/
// transaction that produced e. Only Conflict is retryable per spec.
func (e *Error) Retryable() bool { return e.Kind == Conflict }

// New builds an *Error with no object and no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithObject returns a copy of e annotated with the offending object name.
func (e *Error) WithObject(obj string) *Error {
	cp := *e
	cp.Object = obj
	return &cp
}

// As reports whether err is an *Error of the given kind.
func As(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
