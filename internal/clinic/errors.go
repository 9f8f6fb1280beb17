package clinic

import (
	"errors"
	"fmt"
)

const (
	CodeValidation            = "validation"
	CodeUnauthorized          = "unauthorized"
	CodeNotFound              = "not_found"
	CodeRejected              = "rejected"
	CodeRateLimited           = "rate_limited"
	CodeGenerationUnavailable = "generation_unavailable"
	CodePersistencePartial    = "persistence_partial"
	CodeOrphanedReference     = "orphaned_reference"
	CodeUnavailable           = "unavailable"
	CodeInternal              = "internal"
)

// Error is the one error type crossing package boundaries. Code is a stable
// machine-readable tag, Message is safe to show to a practitioner.
type Error struct {
	Code      string
	Message   string
	Transient bool
	Status    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeRejected:
		return 409
	case CodeRateLimited:
		return 429
	case CodePersistencePartial:
		return 207
	case CodeGenerationUnavailable, CodeUnavailable:
		return 503
	default:
		return 500
	}
}

func newError(code, message string, transient bool) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Transient: transient,
		Status:    statusForCode(code),
	}
}

func NewValidation(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...), false)
}

func NewNotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, fmt.Sprintf(format, args...), false)
}

func NewRejected(format string, args ...any) *Error {
	return newError(CodeRejected, fmt.Sprintf(format, args...), false)
}

func NewUnauthorized(message string) *Error {
	return newError(CodeUnauthorized, message, false)
}

func NewGenerationUnavailable(message string) *Error {
	return newError(CodeGenerationUnavailable, message, true)
}

func NewRateLimited(message string) *Error {
	return newError(CodeRateLimited, message, true)
}

// NewPersistencePartial marks a generation that succeeded but could not be
// saved. Callers retain the generated text and retry only the save.
func NewPersistencePartial(message string) *Error {
	return newError(CodePersistencePartial, message, true)
}

func NewInternal(message string) *Error {
	return newError(CodeInternal, message, true)
}

// CodeOf extracts the machine code from any error in the chain, defaulting
// to internal.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
