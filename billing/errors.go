/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is / errors.As and the helpers below.

ERROR CATEGORIES:
  1. Caller input errors   - invalid amount/count/recurrence; never retried
  2. Transient conflicts   - lost generation race; safe to retry immediately
  3. Not-found errors      - unknown bill or template
  4. Storage failures      - wrapped database errors; retried next tick

USAGE:
  if billing.IsClientError(err) {
      // 400, do not retry
  } else if billing.IsRetryable(err) {
      // retry observes the advanced cursor and no-ops
  }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for a non-positive template total.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInstallmentCount is returned when an installment plan has
	// fewer than one installment.
	ErrInvalidInstallmentCount = errors.New("invalid installment count")

	// ErrInvalidRecurrenceConfig is returned for a malformed recurrence:
	// unknown period, end date before the anchor, or count below one.
	ErrInvalidRecurrenceConfig = errors.New("invalid recurrence config")

	// ErrConcurrentGeneration is returned when a compare-and-swap on the
	// generation cursor is lost to a concurrent writer. Retrying is safe:
	// the retry observes the advanced cursor and no-ops.
	ErrConcurrentGeneration = errors.New("concurrent generation conflict")

	// ErrDuplicatePeriod is the storage-layer signal that a bill for
	// (template, due date) already exists. The generator maps it to
	// ErrConcurrentGeneration after repairing the cursor.
	ErrDuplicatePeriod = errors.New("bill already generated for period")

	// ErrBillNotFound / ErrTemplateNotFound identify missing records.
	ErrBillNotFound     = errors.New("bill not found")
	ErrTemplateNotFound = errors.New("template not found")

	// ErrCursorNotFound is returned when advancing a subscription whose
	// generation cursor was never recorded.
	ErrCursorNotFound = errors.New("generation cursor not found")

	// ErrMissingActor is returned when an exemption names no acting user.
	ErrMissingActor = errors.New("exemption requires an acting user")

	// ErrNotCancellable is returned when cancelling a bill that has
	// payment or penalty history, or is already terminal.
	ErrNotCancellable = errors.New("bill cannot be cancelled")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InvalidAmountError struct {
	Amount Money
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: must be positive", e.Amount.Value)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

type InvalidInstallmentCountError struct {
	Count int
}

func (e *InvalidInstallmentCountError) Error() string {
	return fmt.Sprintf("invalid installment count %d: must be >= 1", e.Count)
}

func (e *InvalidInstallmentCountError) Unwrap() error { return ErrInvalidInstallmentCount }

type InvalidRecurrenceError struct {
	Reason string
}

func (e *InvalidRecurrenceError) Error() string {
	return "invalid recurrence config: " + e.Reason
}

func (e *InvalidRecurrenceError) Unwrap() error { return ErrInvalidRecurrenceConfig }

// GenerationConflictError reports a lost race on one (template, due date).
type GenerationConflictError struct {
	TemplateID TemplateID
	DueDate    Date
}

func (e *GenerationConflictError) Error() string {
	return fmt.Sprintf("generation conflict for template %s at %s", e.TemplateID, e.DueDate)
}

func (e *GenerationConflictError) Unwrap() error { return ErrConcurrentGeneration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on immediate retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentGeneration)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInstallmentCount) ||
		errors.Is(err, ErrInvalidRecurrenceConfig) ||
		errors.Is(err, ErrMissingActor) ||
		errors.Is(err, ErrNotCancellable)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBillNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrCursorNotFound)
}
