// Package missionerr defines the typed error taxonomy from spec §7:
// Transient, Validation, Budget, Cancelled, Fatal. The controller and the
// retry loop both classify through Classify rather than inspecting error
// strings, so a capability adapter only needs to wrap its failure in the
// right kind once.
package missionerr

import (
	"errors"
	"fmt"
)

// Kind names one of the five error categories from spec §7.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindValidation Kind = "validation"
	KindBudget     Kind = "budget"
	KindCancelled  Kind = "cancelled"
	KindFatal      Kind = "fatal"
)

// Error wraps an underlying cause with a Kind and the component that raised
// it, so logs can attribute a failure without parsing message text.
type Error struct {
	Kind      Kind
	Component string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Component, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, component string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Cause: cause}
}

func Transient(component string, cause error) *Error  { return newErr(KindTransient, component, cause) }
func Validation(component string, cause error) *Error { return newErr(KindValidation, component, cause) }
func Budget(component string, cause error) *Error     { return newErr(KindBudget, component, cause) }
func Cancelled(component string, cause error) *Error  { return newErr(KindCancelled, component, cause) }
func Fatal(component string, cause error) *Error      { return newErr(KindFatal, component, cause) }

// NoEvidence is the specific Fatal raised when every enabled retrieval
// channel fails for a query (spec §4.1, §8 boundary case).
func NoEvidence(component string, cause error) *Error {
	return newErr(KindFatal, component, fmt.Errorf("no evidence: %w", cause))
}

// Classify extracts the Kind from err, walking the unwrap chain. An error
// with no *Error in its chain is treated as Fatal -- an adapter that didn't
// classify its own failure is a defect, but the controller still needs to
// fail safe rather than retry forever.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindFatal
}

// IsRetryable reports whether err's Kind should be retried by
// internal/retry.Do (only Transient failures are).
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}
