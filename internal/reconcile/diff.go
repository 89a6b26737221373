// Package reconcile computes the difference between a program's persisted
// calibrations and its desired calibration set.
//
// Diff is a pure function over two immutable snapshots. Applying the result
// is the engine's job; nothing here has side effects.
package reconcile

import (
	"sort"

	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/planner"
)

// Update is a matched calibration whose aggregated parameters changed.
type Update struct {
	Current ir.CalibrationObservation
	Params  ir.CalibrationParams
}

// Plan is the reconciliation diff.
type Plan struct {
	// Create holds desired descriptors with no persisted calibration.
	Create []planner.Descriptor
	// Update holds matched calibrations with changed parameters.
	Update []Update
	// Keep holds matched calibrations that are already up to date.
	Keep []ir.CalibrationObservation
	// Delete holds orphaned calibrations without execution events.
	Delete []ir.CalibrationObservation
	// Retain holds orphaned calibrations that have execution events.
	Retain []ir.CalibrationObservation
}

// Empty reports whether applying the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Surviving returns every calibration that still exists after the plan is
// applied, excluding ones it creates.
func (p Plan) Surviving() []ir.CalibrationObservation {
	out := make([]ir.CalibrationObservation, 0, len(p.Keep)+len(p.Update)+len(p.Retain))
	out = append(out, p.Keep...)
	for _, u := range p.Update {
		out = append(out, u.Current)
	}
	out = append(out, p.Retain...)
	return out
}

func identityOf(c ir.CalibrationObservation) planner.Identity {
	return planner.Identity{Role: c.Role, KeyHash: c.KeyHash}
}

// Diff partitions current calibrations against desired descriptors.
//
// A current calibration matches a descriptor with the same role and key
// hash. Should two current calibrations share an identity, the one with the
// smallest id matches and the rest are treated as orphans. Executed orphans
// are retained, never deleted.
//
// Output slices are ordered: Create follows desired order, all others
// ascend by observation id.
func Diff(current []ir.CalibrationObservation, desired []planner.Descriptor) Plan {
	sorted := make([]ir.CalibrationObservation, len(current))
	copy(sorted, current)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	wanted := make(map[planner.Identity]planner.Descriptor, len(desired))
	for _, d := range desired {
		wanted[d.Identity()] = d
	}

	var plan Plan
	matched := make(map[planner.Identity]bool, len(sorted))
	for _, c := range sorted {
		id := identityOf(c)
		d, ok := wanted[id]
		if ok && !matched[id] {
			matched[id] = true
			if c.Params != d.Params {
				plan.Update = append(plan.Update, Update{Current: c, Params: d.Params})
			} else {
				plan.Keep = append(plan.Keep, c)
			}
			continue
		}
		if c.HasExecutionEvents {
			plan.Retain = append(plan.Retain, c)
		} else {
			plan.Delete = append(plan.Delete, c)
		}
	}

	for _, d := range desired {
		if !matched[d.Identity()] {
			plan.Create = append(plan.Create, d)
		}
	}
	return plan
}
