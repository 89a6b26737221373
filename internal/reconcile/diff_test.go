package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/planner"
)

func desc(role ir.CalibrationRole, hash string, nm float64) planner.Descriptor {
	return planner.Descriptor{
		Role:    role,
		KeyHash: hash,
		Params:  ir.CalibrationParams{ReferenceWavelength: ir.Nanometers(nm)},
	}
}

func cal(id string, role ir.CalibrationRole, hash string, nm float64, executed bool) ir.CalibrationObservation {
	return ir.CalibrationObservation{
		ID:                 ir.ObservationID(id),
		Role:               role,
		KeyHash:            hash,
		Params:             ir.CalibrationParams{ReferenceWavelength: ir.Nanometers(nm)},
		HasExecutionEvents: executed,
	}
}

func ids(cs []ir.CalibrationObservation) []ir.ObservationID {
	out := make([]ir.ObservationID, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestDiffEmpty(t *testing.T) {
	plan := Diff(nil, nil)
	assert.True(t, plan.Empty())
	assert.Empty(t, plan.Surviving())
}

func TestDiffCreatesMissing(t *testing.T) {
	desired := []planner.Descriptor{
		desc(ir.RoleSpectroPhotometric, "k1", 500),
		desc(ir.RoleTwilight, "k2", 500),
	}
	plan := Diff(nil, desired)

	if diff := cmp.Diff(desired, plan.Create); diff != "" {
		t.Errorf("Create mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, plan.Empty())
}

func TestDiffKeepsUnchanged(t *testing.T) {
	current := []ir.CalibrationObservation{cal("c1", ir.RoleTwilight, "k1", 500, false)}
	plan := Diff(current, []planner.Descriptor{desc(ir.RoleTwilight, "k1", 500)})

	assert.True(t, plan.Empty(), "second reconciliation with unchanged inputs is a no-op")
	assert.Equal(t, []ir.ObservationID{"c1"}, ids(plan.Keep))
}

func TestDiffUpdatesParams(t *testing.T) {
	current := []ir.CalibrationObservation{cal("c1", ir.RoleTwilight, "k1", 500, false)}
	plan := Diff(current, []planner.Descriptor{desc(ir.RoleTwilight, "k1", 510)})

	assert.Len(t, plan.Update, 1)
	assert.Equal(t, ir.ObservationID("c1"), plan.Update[0].Current.ID)
	assert.Equal(t, ir.Nanometers(510), plan.Update[0].Params.ReferenceWavelength)
	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Delete)
}

func TestDiffDeletesUnexecutedOrphans(t *testing.T) {
	current := []ir.CalibrationObservation{
		cal("c2", ir.RoleTwilight, "gone", 500, false),
		cal("c1", ir.RoleSpectroPhotometric, "gone", 500, true),
	}
	plan := Diff(current, nil)

	assert.Equal(t, []ir.ObservationID{"c2"}, ids(plan.Delete))
	assert.Equal(t, []ir.ObservationID{"c1"}, ids(plan.Retain), "executed calibrations are never deleted")
	assert.Equal(t, []ir.ObservationID{"c1"}, ids(plan.Surviving()))
}

func TestDiffRoleScopesIdentity(t *testing.T) {
	current := []ir.CalibrationObservation{cal("c1", ir.RoleTwilight, "k1", 500, false)}
	plan := Diff(current, []planner.Descriptor{desc(ir.RoleSpectroPhotometric, "k1", 500)})

	assert.Len(t, plan.Create, 1)
	assert.Equal(t, []ir.ObservationID{"c1"}, ids(plan.Delete))
}

func TestDiffDuplicateIdentities(t *testing.T) {
	current := []ir.CalibrationObservation{
		cal("c9", ir.RoleTwilight, "k1", 500, false),
		cal("c3", ir.RoleTwilight, "k1", 500, false),
	}
	plan := Diff(current, []planner.Descriptor{desc(ir.RoleTwilight, "k1", 500)})

	assert.Equal(t, []ir.ObservationID{"c3"}, ids(plan.Keep))
	assert.Equal(t, []ir.ObservationID{"c9"}, ids(plan.Delete))
}

func TestDiffDoesNotMutateInput(t *testing.T) {
	current := []ir.CalibrationObservation{
		cal("c2", ir.RoleTwilight, "a", 500, false),
		cal("c1", ir.RoleTwilight, "b", 500, false),
	}
	_ = Diff(current, nil)
	assert.Equal(t, ir.ObservationID("c2"), current[0].ID)
}
