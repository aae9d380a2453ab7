// Package errs defines the closed set of domain error kinds used
// across the workflow engine and their HTTP status mapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed enum of domain-level failure categories.
type Kind string

const (
	SpoolNotFound    Kind = "SpoolNotFound"
	NotAuthorized    Kind = "NotAuthorized"
	ArmPrerequisite  Kind = "ArmPrerequisite"
	SpoolOccupied    Kind = "SpoolOccupied"
	VersionConflict  Kind = "VersionConflict"
	RaceCondition    Kind = "RaceCondition"
	InvalidState     Kind = "InvalidStateTransition"
	WrongVersion     Kind = "WrongVersion"
	StoreUnavailable Kind = "StoreUnavailable"
	SchemaInvalid    Kind = "SchemaInvalid"
	LockExpired      Kind = "LockExpired"
	AuditDegraded    Kind = "AuditDegraded"
	ValidationFailed Kind = "ValidationFailed"
)

// httpStatus maps each Kind to its HTTP status per the boundary's
// error-code table.
var httpStatus = map[Kind]int{
	SpoolNotFound:    http.StatusNotFound,
	NotAuthorized:    http.StatusForbidden,
	ArmPrerequisite:  http.StatusForbidden,
	SpoolOccupied:    http.StatusConflict,
	VersionConflict:  http.StatusConflict,
	RaceCondition:    http.StatusConflict,
	InvalidState:     http.StatusBadRequest,
	WrongVersion:     http.StatusBadRequest,
	StoreUnavailable: http.StatusServiceUnavailable,
	SchemaInvalid:    http.StatusServiceUnavailable,
	LockExpired:      http.StatusConflict,
	AuditDegraded:    http.StatusOK,
	ValidationFailed: http.StatusUnprocessableEntity,
}

// Error is a structured domain error carrying a Kind, a human message,
// and optional machine-readable details (e.g. RaceCondition's
// unavailable_unions payload).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an *Error with no details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails builds an *Error carrying a details payload.
func WithDetails(kind Kind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// HTTPStatus returns the status code for kind, defaulting to 500 for
// an unrecognized kind (should not happen — the enum is closed).
func HTTPStatus(kind Kind) int {
	if s, ok := httpStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
