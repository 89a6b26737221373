package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/obscal/internal/ir"
)

// ReconcileError represents an error detected during reconciliation.
//
// Reconcile errors include:
//   - No catalog target: a descriptor's target selection found nothing
//   - Concurrent modification: program state moved between read and write
//   - Calibration not found: a single-target request named no calibration
//   - Invariant violation: the computed state would break a uniqueness rule
//
// Only NoCatalogTarget is absorbed by Recalculate; the others abort the
// enclosing transaction.
type ReconcileError struct {
	// Code identifies the error category.
	Code ReconcileErrorCode

	// Message is a human-readable description.
	Message string

	// ProgramID identifies the affected program.
	ProgramID ir.ProgramID

	// ObservationID identifies the affected calibration, when there is one.
	ObservationID ir.ObservationID

	// Err is the underlying cause.
	Err error
}

// ReconcileErrorCode categorizes reconcile errors.
type ReconcileErrorCode string

const (
	// ErrCodeNoCatalogTarget indicates no catalog entry satisfied a descriptor.
	ErrCodeNoCatalogTarget ReconcileErrorCode = "NO_CATALOG_TARGET"

	// ErrCodeConcurrentModification indicates the program changed underneath
	// the reconciliation. Callers retry.
	ErrCodeConcurrentModification ReconcileErrorCode = "CONCURRENT_MODIFICATION"

	// ErrCodeCalibrationNotFound indicates the named calibration does not exist.
	ErrCodeCalibrationNotFound ReconcileErrorCode = "CALIBRATION_NOT_FOUND"

	// ErrCodeInvariantViolation indicates applying the diff would break a
	// calibration invariant.
	ErrCodeInvariantViolation ReconcileErrorCode = "INVARIANT_VIOLATION"
)

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ProgramID != "" && e.ObservationID != "" {
		msg = fmt.Sprintf("%s (program=%s, observation=%s)", msg, e.ProgramID, e.ObservationID)
	} else if e.ProgramID != "" {
		msg = fmt.Sprintf("%s (program=%s)", msg, e.ProgramID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ReconcileErrorCode) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsNoCatalogTarget reports whether err is a no-catalog-target error.
// Uses errors.As to handle wrapped errors.
func IsNoCatalogTarget(err error) bool {
	return hasCode(err, ErrCodeNoCatalogTarget)
}

// IsConcurrentModification reports whether err is a concurrent
// modification error.
func IsConcurrentModification(err error) bool {
	return hasCode(err, ErrCodeConcurrentModification)
}

// IsCalibrationNotFound reports whether err is a calibration-not-found error.
func IsCalibrationNotFound(err error) bool {
	return hasCode(err, ErrCodeCalibrationNotFound)
}

// IsInvariantViolation reports whether err is an invariant violation.
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariantViolation)
}

// NewConcurrentModificationError creates a ReconcileError for a version
// conflict on program.
func NewConcurrentModificationError(program ir.ProgramID, cause error) *ReconcileError {
	return &ReconcileError{
		Code:      ErrCodeConcurrentModification,
		Message:   "program calibration state changed during reconciliation",
		ProgramID: program,
		Err:       cause,
	}
}

// NewCalibrationNotFoundError creates a ReconcileError for a missing
// calibration.
func NewCalibrationNotFoundError(program ir.ProgramID, id ir.ObservationID, cause error) *ReconcileError {
	return &ReconcileError{
		Code:          ErrCodeCalibrationNotFound,
		Message:       "calibration does not exist",
		ProgramID:     program,
		ObservationID: id,
		Err:           cause,
	}
}

// NewInvariantViolation creates a ReconcileError for a broken invariant.
func NewInvariantViolation(program ir.ProgramID, id ir.ObservationID, format string, args ...any) *ReconcileError {
	return &ReconcileError{
		Code:          ErrCodeInvariantViolation,
		Message:       fmt.Sprintf(format, args...),
		ProgramID:     program,
		ObservationID: id,
	}
}

// NewNoCatalogTargetError creates a ReconcileError for a skipped descriptor.
func NewNoCatalogTargetError(program ir.ProgramID, cause error) *ReconcileError {
	return &ReconcileError{
		Code:      ErrCodeNoCatalogTarget,
		Message:   "no catalog target satisfies constraints",
		ProgramID: program,
		Err:       cause,
	}
}
