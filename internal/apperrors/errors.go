// Package apperrors defines the typed error model shared across the
// ingest, classify, run, tick, and export packages.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple, context-free conditions.
var (
	// ErrNotFound is a generic not-found marker; prefer NotFoundError for
	// anything that needs to carry a resource name and id.
	ErrNotFound = errors.New("entity not found")
)

// InvalidInputError signals a bad request parameter (400).
type InvalidInputError struct {
	Message string
	Details map[string]any
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// NewInvalidInput builds an InvalidInputError with optional details.
func NewInvalidInput(message string, details map[string]any) *InvalidInputError {
	return &InvalidInputError{Message: message, Details: details}
}

// NotFoundError signals a missing entity (404).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NewNotFound builds a NotFoundError.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NoEligibleDaysError signals a run creation request whose date range and
// filters select zero eligible days (400).
type NoEligibleDaysError struct {
	StartDate string
	EndDate   string
}

func (e *NoEligibleDaysError) Error() string {
	return fmt.Sprintf("no eligible days between %s and %s", e.StartDate, e.EndDate)
}

// TimezoneMismatchError signals that the batches selected for a run do not
// share a single IANA timezone (400).
type TimezoneMismatchError struct {
	Timezones map[string][]string // timezone -> batch ids
}

func (e *TimezoneMismatchError) Error() string {
	return fmt.Sprintf("batches span %d distinct timezones, expected 1", len(e.Timezones))
}

// ConflictError is a generic typed conflict (409).
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TickInProgressError is a ConflictError specialisation raised when the
// per-run advisory lock is already held (409, retriable).
type TickInProgressError struct {
	RunID string
}

func (e *TickInProgressError) Error() string {
	return fmt.Sprintf("tick already in progress for run %q", e.RunID)
}

// Retriable reports whether the caller should retry. TickInProgressError
// always is.
func (e *TickInProgressError) Retriable() bool { return true }

// ExportPreconditionCode enumerates export-orchestrator precondition codes.
type ExportPreconditionCode string

const (
	ExportCodeNotFound     ExportPreconditionCode = "EXPORT_NOT_FOUND"
	ExportCodePrecondition ExportPreconditionCode = "EXPORT_PRECONDITION"
)

// ExportPreconditionError signals that a run is not in an exportable state.
type ExportPreconditionError struct {
	Code    ExportPreconditionCode
	Message string
	Details map[string]any
}

func (e *ExportPreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UnknownModelPricingError signals a non-stub model absent from the pricing
// book.
type UnknownModelPricingError struct {
	Model string
}

func (e *UnknownModelPricingError) Error() string {
	return fmt.Sprintf("unknown pricing for model %q", e.Model)
}

// BudgetExceededError signals a pre- or post-call budget violation.
// Always non-retriable.
type BudgetExceededError struct {
	Scope       string // "run" or "day"
	LimitUsd    float64
	AttemptUsd  float64
	AlreadySpent float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded (%s): spent=%.4f attempt=%.4f limit=%.4f",
		e.Scope, e.AlreadySpent, e.AttemptUsd, e.LimitUsd)
}

// Retriable is always false for budget violations.
func (e *BudgetExceededError) Retriable() bool { return false }

// MissingApiKeyError signals a missing provider credential. Always
// non-retriable.
type MissingApiKeyError struct {
	Provider string
	EnvVar   string
}

func (e *MissingApiKeyError) Error() string {
	return fmt.Sprintf("missing API key for provider %q (expected %s)", e.Provider, e.EnvVar)
}

// Retriable is always false for missing credentials.
func (e *MissingApiKeyError) Retriable() bool { return false }

// LlmProviderError wraps a provider transport/response failure.
type LlmProviderError struct {
	Provider    string
	Cause       error
	retriable   bool
}

func (e *LlmProviderError) Error() string {
	return fmt.Sprintf("llm provider %q error: %v", e.Provider, e.Cause)
}

func (e *LlmProviderError) Unwrap() error { return e.Cause }

// Retriable reports whether the caller should retry this call. Defaults to
// true unless explicitly marked otherwise (auth/quota failures).
func (e *LlmProviderError) Retriable() bool { return e.retriable }

// NewLlmProviderError builds a retriable LlmProviderError.
func NewLlmProviderError(provider string, cause error) *LlmProviderError {
	return &LlmProviderError{Provider: provider, Cause: cause, retriable: true}
}

// NewLlmProviderErrorNonRetriable builds a non-retriable LlmProviderError,
// for auth/quota style failures.
func NewLlmProviderErrorNonRetriable(provider string, cause error) *LlmProviderError {
	return &LlmProviderError{Provider: provider, Cause: cause, retriable: false}
}

// LlmBadOutputError signals an unparseable or out-of-schema classify
// response. Non-retriable for the affected atom within the run.
type LlmBadOutputError struct {
	Reason string
	Raw    string
}

func (e *LlmBadOutputError) Error() string {
	return fmt.Sprintf("bad llm output: %s", e.Reason)
}

func (e *LlmBadOutputError) Retriable() bool { return false }

// Retriable reports whether err, if one of the typed errors above, should
// be retried by the caller. Non-typed errors default to false.
func Retriable(err error) bool {
	type retriabler interface{ Retriable() bool }
	var r retriabler
	if errors.As(err, &r) {
		return r.Retriable()
	}
	return false
}

// JobError is the exact {code, message, retriable, at} shape persisted on a
// failed job row (spec §7 "User-visible failure").
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
	At        string `json:"at"` // canonical timestamp
}

// Code maps a typed error to the short code used in JobError.Code and in
// ExportPreconditionError-style responses.
func Code(err error) string {
	switch e := err.(type) {
	case *InvalidInputError:
		return "INVALID_INPUT"
	case *NotFoundError:
		return "NOT_FOUND"
	case *NoEligibleDaysError:
		return "NO_ELIGIBLE_DAYS"
	case *TimezoneMismatchError:
		return "TIMEZONE_MISMATCH"
	case *ConflictError:
		return e.Code
	case *TickInProgressError:
		return "TICK_IN_PROGRESS"
	case *ExportPreconditionError:
		return string(e.Code)
	case *UnknownModelPricingError:
		return "UNKNOWN_MODEL_PRICING"
	case *BudgetExceededError:
		return "BUDGET_EXCEEDED"
	case *MissingApiKeyError:
		return "MISSING_API_KEY"
	case *LlmProviderError:
		return "LLM_PROVIDER_ERROR"
	case *LlmBadOutputError:
		return "LLM_BAD_OUTPUT"
	default:
		return "INTERNAL_ERROR"
	}
}
