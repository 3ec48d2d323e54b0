package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrEmptyPlan        = errors.New("protection plan is empty")
	ErrPlanTooLong      = errors.New("protection plan exceeds step limit")
	ErrTooManyPipelines = errors.New("too many active pipelines")
)

// ConfigurationError marks a method that cannot be resolved from
// configuration. It is non-retryable: callers surface it instead of
// re-queueing the work.
type ConfigurationError struct {
	Method string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("method %q: %s", e.Method, e.Reason)
}

// ProviderError captures a failed call to the external compute provider.
type ProviderError struct {
	Method     string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Method, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Method, e.Message)
}

// IntegrityError marks a pipeline whose persisted state contradicts its own
// invariants, e.g. a COMPLETED step without an output URL. Fatal for the
// artwork; never retried.
type IntegrityError struct {
	ArtworkID int64
	StepID    int64
	Reason    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("artwork %d step %d: %s", e.ArtworkID, e.StepID, e.Reason)
}

// LedgerError wraps a credit charge failure at finalize time. It is logged
// for reconciliation and never reverts a DONE artwork.
type LedgerError struct {
	UserID string
	Key    string
	Err    error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger charge for %s (key %s): %v", e.UserID, e.Key, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }
