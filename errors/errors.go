// Package errors defines the stable error taxonomy surfaced by the
// coordination core: concurrency failures, validation failures, domain
// errors with stable codes, and not-found errors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Stable domain error codes, referenced by external callers.
const (
	CodeConferenceNotFound      = "conference_not_found"
	CodeConferenceNotOpen       = "conference_not_open"
	CodeConferenceAlreadyOpen   = "conference_already_open"
	CodeRoomNotFound            = "room_not_found"
	CodePermissionDenied        = "permission_denied"
	CodeInvalidPermissionValue  = "invalid_permission_value"
	CodeCannotRemoveDefaultRoom = "cannot_remove_default_room"
)

// ConcurrencyError reports a compare-and-swap precondition that did not
// hold. It is retryable by the caller and never retried inside the core.
type ConcurrencyError struct {
	Reason string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency failure: %s", e.Reason)
}

func NewConcurrency(format string, args ...any) *ConcurrencyError {
	return &ConcurrencyError{Reason: fmt.Sprintf(format, args...)}
}

func IsConcurrency(err error) bool {
	var ce *ConcurrencyError
	return stderrors.As(err, &ce)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// DomainError is a terminal business-rule rejection with a stable code.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDomain(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// IsDomain reports whether err is a domain error with the given code.
func IsDomain(err error, code string) bool {
	var de *DomainError
	return stderrors.As(err, &de) && de.Code == code
}

// ValidationError reports malformed input with field-level detail.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}
