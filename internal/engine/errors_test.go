package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/obscal/internal/ir"
)

func TestReconcileError_Format(t *testing.T) {
	err := NewCalibrationNotFoundError("p1", "c1", errors.New("not found"))
	assert.Equal(t, "CALIBRATION_NOT_FOUND: calibration does not exist (program=p1, observation=c1): not found", err.Error())

	err = NewConcurrentModificationError("p1", nil)
	assert.Equal(t, "CONCURRENT_MODIFICATION: program calibration state changed during reconciliation (program=p1)", err.Error())
}

func TestReconcileError_Predicates(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"no catalog target", NewNoCatalogTargetError("p1", cause), IsNoCatalogTarget},
		{"concurrent modification", NewConcurrentModificationError("p1", cause), IsConcurrentModification},
		{"calibration not found", NewCalibrationNotFoundError("p1", "c1", cause), IsCalibrationNotFound},
		{"invariant violation", NewInvariantViolation("p1", "c1", "dup %s", "x"), IsInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(wrapped), "predicates see through wrapping")
			assert.False(t, tt.is(cause))
		})
	}
}

func TestReconcileError_Unwrap(t *testing.T) {
	cause := errors.New("version moved")
	err := NewConcurrentModificationError("p1", cause)
	assert.ErrorIs(t, err, cause)
}

func TestCheckInvariants(t *testing.T) {
	assert.NoError(t, checkInvariants("p1", nil))

	err := checkInvariants("p1", []ir.CalibrationObservation{
		{ID: "c1", Role: ir.RoleTwilight, KeyHash: "a", TargetID: "t1"},
		{ID: "c2", Role: ir.RoleTwilight, KeyHash: "b", TargetID: "t1"},
	})
	assert.True(t, IsInvariantViolation(err))

	err = checkInvariants("p1", []ir.CalibrationObservation{
		{ID: "c1", Role: ir.RoleTwilight, KeyHash: "a", TargetID: "t1"},
		{ID: "c2", Role: ir.RoleTwilight, KeyHash: "a", TargetID: "t2"},
	})
	assert.True(t, IsInvariantViolation(err))
}
