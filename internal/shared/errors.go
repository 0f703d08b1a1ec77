package shared

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("not found")

// Kind classifies a domain error for HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
)

// DomainError carries a human-readable message plus machine-readable fields
// sufficient to drive a corrective UI without re-querying.
type DomainError struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// WithField attaches a machine-readable field and returns the error.
func (e *DomainError) WithField(key string, value any) *DomainError {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

// Validation builds a KindValidation error.
func Validation(msg string) *DomainError {
	return &DomainError{Kind: KindValidation, Message: msg}
}

// NotFound builds a KindNotFound error.
func NotFound(msg string) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: msg, Err: ErrNotFound}
}

// Conflict builds a KindConflict error.
func Conflict(msg string) *DomainError {
	return &DomainError{Kind: KindConflict, Message: msg}
}

// Unknown wraps an unexpected error.
func Unknown(msg string, err error) *DomainError {
	return &DomainError{Kind: KindUnknown, Message: msg, Err: err}
}

// KindOf extracts the kind from err, defaulting to KindUnknown.
// Bare ErrNotFound from a repository maps to KindNotFound.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindUnknown
}

// FieldsOf returns the machine-readable fields attached to err, if any.
func FieldsOf(err error) map[string]any {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
