package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is matched by every *InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAnalysisUnavailable is matched by every *AnalysisUnavailableError.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrQuotaExceeded is returned when a dossier has been analysed too often
	// within the configured window.
	ErrQuotaExceeded = errors.New("analysis quota exceeded")

	// ErrInvalidTransition is returned for a dossier status change that the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when a write collides with an existing record,
	// such as a second dossier with the same reference.
	ErrConflict = errors.New("conflict")
)

// InvalidInputError reports a field that failed validation.
// Field uses the JSON path of the request payload, e.g. "credit.termMonths".
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: reason}
}

// AnalysisUnavailableError wraps a failure of the external narrative scorer
// (transport, timeout, quota, malformed response). Callers decide whether
// to retry.
type AnalysisUnavailableError struct {
	Reason string
	Cause  error
}

func (e *AnalysisUnavailableError) Error() string {
	if e.Cause == nil {
		return "analysis unavailable: " + e.Reason
	}
	return fmt.Sprintf("analysis unavailable: %s: %v", e.Reason, e.Cause)
}

// Is lets errors.Is(err, ErrAnalysisUnavailable) match.
func (e *AnalysisUnavailableError) Is(target error) bool {
	return target == ErrAnalysisUnavailable
}

func (e *AnalysisUnavailableError) Unwrap() error {
	return e.Cause
}

// NewAnalysisUnavailable builds an AnalysisUnavailableError.
func NewAnalysisUnavailable(reason string, cause error) *AnalysisUnavailableError {
	return &AnalysisUnavailableError{Reason: reason, Cause: cause}
}
