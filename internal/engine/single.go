package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/obscal/internal/events"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/planner"
	"github.com/roach88/obscal/internal/selector"
	"github.com/roach88/obscal/internal/store"
)

// TargetChange is the outcome of re-selecting one calibration's target.
type TargetChange struct {
	Calibration ir.CalibrationObservation `json:"calibration"`
	// Changed is true when a new target was assigned.
	Changed bool `json:"changed"`
	// Reason explains an unchanged target: "executed", "unchanged" or
	// NO_CATALOG_TARGET.
	Reason string `json:"reason,omitempty"`
}

// Reasons a single-target recalculation keeps the current target.
const (
	ReasonExecuted  = "executed"
	ReasonUnchanged = "unchanged"
)

// RecalculateSingleTarget re-selects the target of one calibration at its
// observation time, or its reference instant when none is set. Identity is
// preserved: only the target and the title derived from it change.
//
// A calibration with execution events keeps its target. The operation is
// serialized with whole-program recalculation by the program lock.
func (e *Engine) RecalculateSingleTarget(ctx context.Context, programID ir.ProgramID, id ir.ObservationID) (TargetChange, error) {
	if err := e.requireStore(); err != nil {
		return TargetChange{}, err
	}
	unlock := e.locks.Lock(programID)
	defer unlock()

	var change TargetChange
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		change, err = e.retarget(ctx, TxDeps(tx), programID, id)
		return err
	})
	if err != nil {
		return TargetChange{}, e.failed(programID, err)
	}
	if change.Changed {
		e.stats.updated.Add(1)
	}
	return change, nil
}

func (e *Engine) retarget(ctx context.Context, d Deps, programID ir.ProgramID, id ir.ObservationID) (TargetChange, error) {
	log := e.logger.With("program", programID, "observation", id)

	version, err := d.Versions.ProgramVersion(ctx, programID)
	if err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}

	cal, err := d.Observations.Calibration(ctx, programID, id)
	if errors.Is(err, store.ErrNotFound) {
		return TargetChange{}, NewCalibrationNotFoundError(programID, id, err)
	}
	if err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}

	executed, err := d.Executions.HasExecutionEvents(ctx, id)
	if err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}
	cal.HasExecutionEvents = executed
	if executed {
		log.Debug("keeping target of executed calibration", "target", cal.TargetID)
		return TargetChange{Calibration: cal, Reason: ReasonExecuted}, nil
	}

	site, ok := ir.SiteFor(cal.Key.Instrument)
	if !ok {
		return TargetChange{}, NewInvariantViolation(programID, id, "calibration key has unknown instrument %q", cal.Key.Instrument)
	}

	all, err := d.Observations.Calibrations(ctx, programID)
	if err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}
	exclude, err := assignedCatalogRefs(ctx, d.Targets, all, id)
	if err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}

	var current ir.Target
	if cal.TargetID != "" {
		if current, err = d.Targets.Target(ctx, cal.TargetID); err != nil {
			return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
		}
	}

	at := cal.SelectionInstant()
	sel, err := planner.PolicyFor(cal.Role).Select(e.catalogs, selector.Request{
		Role:    cal.Role,
		Site:    site,
		At:      at,
		Exclude: exclude,
	})
	if errors.Is(err, selector.ErrNoCatalogTarget) {
		log.Warn("keeping target, no catalog target available", "at", at.Format(time.RFC3339), "error", err)
		return TargetChange{Calibration: cal, Reason: string(ErrCodeNoCatalogTarget)}, nil
	}
	if err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: select target: %w", id, err)
	}

	if cal.TargetID != "" && sameTarget(current, sel) {
		return TargetChange{Calibration: cal, Reason: ReasonUnchanged}, nil
	}

	target := ir.Target{
		ID:         ir.TargetID(e.newID()),
		ProgramID:  programID,
		Name:       sel.Name,
		Position:   sel.Position,
		Source:     sel.Source,
		CatalogRef: sel.CatalogRef,
	}
	if err := d.Targets.InsertTarget(ctx, target); err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}
	title := planner.Title(cal.Role, sel.Name)
	if err := d.Observations.UpdateCalibrationTarget(ctx, id, target.ID, title); err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}
	if cal.TargetID != "" {
		if err := d.Targets.DeleteTarget(ctx, cal.TargetID); err != nil {
			return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
		}
	}

	if err := e.commitVersion(ctx, d, programID, version, true); err != nil {
		return TargetChange{}, err
	}

	cal.TargetID = target.ID
	cal.Title = title
	if _, err := events.NewEmitter(d.Publisher, e.logger).Emit(ctx, events.Diff{
		ProgramID: programID,
		Updated:   []ir.CalibrationObservation{cal},
	}); err != nil {
		return TargetChange{}, fmt.Errorf("retarget %s: %w", id, err)
	}

	log.Info("retargeted calibration", "target", target.ID, "name", sel.Name, "at", at.Format(time.RFC3339))
	return TargetChange{Calibration: cal, Changed: true}, nil
}

// sameTarget reports whether sel would resolve to the already assigned t.
func sameTarget(t ir.Target, sel selector.Selection) bool {
	if t.Source != sel.Source {
		return false
	}
	if sel.Source == ir.SourceCatalog {
		return t.CatalogRef == sel.CatalogRef
	}
	return t.Position == sel.Position && t.Name == sel.Name
}
