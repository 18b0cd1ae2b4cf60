/*
errors.go - Error types for schedule generation and reconciliation

ERROR CATEGORIES:
  1. Validation errors - bad generator input or an unsubmittable schedule
  2. Reconciliation errors - malformed persisted records handed to the merger
  3. Edit errors - removal or correction of unknown or already-paid
     installments

None of these are transient. They are returned to the caller for correction
and never retried.

USAGE:
  if errors.Is(err, installment.ErrInvalidCount) { ... }

  var verr *installment.ValidationError
  if errors.As(err, &verr) {
      log.Printf("field %s: %s", verr.Field, verr.Message)
  }
*/
package installment

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidCount = errors.New("invalid installment count")
	ErrInvalidTotal = errors.New("invalid total amount")
	ErrInvalidDate  = errors.New("invalid due date")

	// ErrInvalidSchedule is returned by ValidateForSubmit.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrMalformedRecord is returned when persisted installments handed to the
	// merger are inconsistent (bad or duplicated sequence numbers / ids).
	ErrMalformedRecord = errors.New("malformed installment record")

	// ErrInstallmentPaid is returned when an edit would remove an installment
	// that already has a payment date.
	ErrInstallmentPaid = errors.New("installment already paid")

	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrEmptyEdit is returned by EditInstallment when the change sets nothing.
	ErrEmptyEdit = errors.New("edit changes nothing")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a precondition violation.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, sentinel error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// ReconciliationError is returned by MergeForEdit when existing records cannot
// be merged.
type ReconciliationError struct {
	LocalID        LocalID
	PersistedID    PersistedID
	SequenceNumber int
	Reason         string
	Err            error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("cannot reconcile installment %s (#%d): %s",
		e.PersistedID, e.SequenceNumber, e.Reason)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCount) ||
		errors.Is(err, ErrInvalidTotal) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrEmptyEdit) ||
		errors.Is(err, ErrInstallmentPaid)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstallmentNotFound)
}
