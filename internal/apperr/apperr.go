// Package apperr defines the closed set of errors the API reports to clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an Error. The set is closed; every Kind maps to exactly
// one HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindFlow
	KindAuth
	KindUnique
)

// AuthMessage is returned for every authentication failure regardless of cause.
const AuthMessage = "Usuario no autorizado para realizar esta operación"

// InternalMessage is the only text clients see for unhandled errors.
const InternalMessage = "Error interno del servidor"

// UniqueMessage is returned when a unique column rejects a write.
const UniqueMessage = "Error de validación: el nombre de usuario o correo ingresado ya está en uso"

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindFlow:
		return "flow"
	case KindAuth:
		return "auth"
	case KindUnique:
		return "unique_violation"
	case KindInternal:
		return "internal"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindFlow:
		return http.StatusUnprocessableEntity
	case KindAuth:
		return http.StatusUnauthorized
	case KindUnique:
		return http.StatusBadRequest
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the application error carried from services to handlers.
type Error struct {
	Kind    Kind
	Message string
	// Details holds per-field validation messages.
	Details []string
	// Err is the underlying cause. It is logged, never sent to clients.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

func Flow(message string) *Error {
	return &Error{Kind: KindFlow, Message: message}
}

// Auth wraps cause behind the single authentication message.
func Auth(cause error) *Error {
	return &Error{Kind: KindAuth, Message: AuthMessage, Err: cause}
}

func Unique(cause error) *Error {
	return &Error{Kind: KindUnique, Message: UniqueMessage, Err: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: InternalMessage, Err: cause}
}

// From returns err as an *Error, classifying anything unknown as internal.
// It returns nil for a nil error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
