// Package itakerr defines the error taxonomy surfaced to callers across
// the core runtime: tool execution, the model router, the memory fabric,
// and the scheduler all classify failures into one of a fixed set of
// categories so that self-healing, HTTP responses, and logs can treat
// errors uniformly regardless of which subsystem raised them.
package itakerr

import (
	"errors"
	"fmt"
)

// Category is a user-visible error cause, not a concrete Go type.
type Category string

const (
	InvalidArgs          Category = "invalid_args"
	PermissionDenied     Category = "permission_denied"
	MissingSecret        Category = "missing_secret"
	RateLimited          Category = "rate_limited"
	BudgetExceeded       Category = "budget_exceeded"
	ProviderTransient    Category = "provider_transient"
	ProviderNonTransient Category = "provider_non_transient"
	Timeout              Category = "timeout"
	PolicyViolation      Category = "policy_violation"
	Cancelled            Category = "cancelled"
	InternalInvariant    Category = "internal_invariant"
)

// retryable reports whether the self-healer should ever consider retrying
// an error in this category. InvalidArgs, PermissionDenied, PolicyViolation,
// and Cancelled are never retried; the remaining categories may be, subject
// to the self-healer's own classification and budget (see internal/heal).
var retryable = map[Category]bool{
	InvalidArgs:          false,
	PermissionDenied:     false,
	MissingSecret:        false,
	RateLimited:          true,
	BudgetExceeded:       false,
	ProviderTransient:    true,
	ProviderNonTransient: false,
	Timeout:              true,
	PolicyViolation:      false,
	Cancelled:            false,
	InternalInvariant:    false,
}

// Error is the concrete error type carrying a Category plus the context
// needed for a structured, user-surfaced report: a correlation id for log
// lookup and the task step at which the error occurred (0 if not
// applicable, e.g. during startup).
type Error struct {
	Category      Category
	Message       string
	CorrelationID string
	Step          int
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a categorized error.
func New(cat Category, message string, correlationID string, step int) *Error {
	return &Error{Category: cat, Message: message, CorrelationID: correlationID, Step: step}
}

// Wrap attaches a category to an existing error, preserving it via Unwrap.
func Wrap(cat Category, err error, correlationID string, step int) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: cat, Message: err.Error(), CorrelationID: correlationID, Step: step, Err: err}
}

// CategoryOf extracts the Category of err, or "" if err is not (or does
// not wrap) an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// IsRetryable reports whether an error's category is ever eligible for
// self-healer retry. It does not by itself authorize a retry — the
// self-healer still applies its own per-error and per-session budgets.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	cat := CategoryOf(err)
	if cat == "" {
		return false
	}
	return retryable[cat]
}

// IsFatal reports whether an error's category always terminates the
// monologue without retry (security/data-class errors in the self-healer,
// or any of the non-retryable categories above surfaced directly).
func IsFatal(err error) bool {
	switch CategoryOf(err) {
	case PolicyViolation, PermissionDenied, InternalInvariant:
		return true
	default:
		return false
	}
}
