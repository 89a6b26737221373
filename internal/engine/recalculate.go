package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/obscal/internal/events"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/planner"
	"github.com/roach88/obscal/internal/reconcile"
	"github.com/roach88/obscal/internal/selector"
	"github.com/roach88/obscal/internal/store"
)

// Recalculate reconciles program's calibrations at reference instant ref
// inside one store transaction.
//
// The transaction reads current state, applies deletes, then updates, then
// creates, bumps the program's calibration version and writes the edit
// events to the outbox. Either all of it commits or none of it does.
func (e *Engine) Recalculate(ctx context.Context, programID ir.ProgramID, ref time.Time) (Result, error) {
	if err := e.requireStore(); err != nil {
		return Result{}, err
	}
	unlock := e.locks.Lock(programID)
	defer unlock()

	var res Result
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		res, err = e.recalculate(ctx, TxDeps(tx), programID, ref)
		return err
	})
	if err != nil {
		return Result{}, e.failed(programID, err)
	}
	e.stats.record(res)
	return res, nil
}

// RecalculateIn runs Recalculate's algorithm against a caller-supplied
// transaction bundle. The caller owns commit and rollback; the program lock
// is held for the duration of the call.
func (e *Engine) RecalculateIn(ctx context.Context, deps Deps, programID ir.ProgramID, ref time.Time) (Result, error) {
	if err := deps.validate(); err != nil {
		return Result{}, err
	}
	unlock := e.locks.Lock(programID)
	defer unlock()

	res, err := e.recalculate(ctx, deps, programID, ref)
	if err != nil {
		return Result{}, e.failed(programID, err)
	}
	e.stats.record(res)
	return res, nil
}

// failed normalizes a reconciliation error and logs it.
func (e *Engine) failed(programID ir.ProgramID, err error) error {
	if errors.Is(err, store.ErrConcurrentModification) && !IsConcurrentModification(err) {
		err = NewConcurrentModificationError(programID, err)
	}
	if IsConcurrentModification(err) {
		e.stats.conflicts.Add(1)
		e.logger.Warn("recalculation conflicted", "program", programID, "error", err)
		return err
	}
	e.logger.Error("recalculation failed", "program", programID, "error", err)
	return err
}

func (e *Engine) recalculate(ctx context.Context, d Deps, programID ir.ProgramID, ref time.Time) (Result, error) {
	ref = ref.UTC()
	log := e.logger.With("program", programID)

	version, err := d.Versions.ProgramVersion(ctx, programID)
	if err != nil {
		return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
	}

	science, err := d.Observations.ScienceObservations(ctx, programID)
	if err != nil {
		return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
	}
	current, err := d.Observations.Calibrations(ctx, programID)
	if err != nil {
		return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
	}
	for i := range current {
		has, err := d.Executions.HasExecutionEvents(ctx, current[i].ID)
		if err != nil {
			return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
		}
		current[i].HasExecutionEvents = has
	}

	desired, ex := planner.Desired(science, e.workflow)
	plan := reconcile.Diff(current, desired)
	log.Debug("reconciliation plan",
		"science", len(science),
		"desired", len(desired),
		"current", len(current),
		"create", len(plan.Create),
		"update", len(plan.Update),
		"delete", len(plan.Delete),
		"retain", len(plan.Retain),
		"excluded_inactive", ex.Excluded[planner.ExcludedInactive],
		"excluded_missing_configuration", ex.Excluded[planner.ExcludedMissingConfig],
	)

	res := Result{
		Added:    []ir.ObservationID{},
		Removed:  []ir.ObservationID{},
		Updated:  []ir.ObservationID{},
		Retained: []ir.ObservationID{},
		Skipped:  []Skipped{},
	}
	diff := events.Diff{ProgramID: programID}

	// Deletes first, so a freed catalog entry can be reused by a create.
	for _, c := range plan.Delete {
		if c.HasExecutionEvents {
			return Result{}, NewInvariantViolation(programID, c.ID, "refusing to delete executed calibration")
		}
		if err := d.Observations.DeleteCalibration(ctx, c.ID); err != nil {
			return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
		}
		if c.TargetID != "" {
			if err := d.Targets.DeleteTarget(ctx, c.TargetID); err != nil {
				return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
			}
		}
		res.Removed = append(res.Removed, c.ID)
		diff.Removed = append(diff.Removed, c.ID)
	}

	for _, u := range plan.Update {
		if err := d.Observations.UpdateCalibrationParams(ctx, u.Current.ID, u.Params); err != nil {
			return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
		}
		updated := u.Current
		updated.Params = u.Params
		res.Updated = append(res.Updated, updated.ID)
		diff.Updated = append(diff.Updated, updated)
	}

	for _, c := range plan.Retain {
		res.Retained = append(res.Retained, c.ID)
	}

	surviving := plan.Surviving()
	exclude, err := assignedCatalogRefs(ctx, d.Targets, surviving, "")
	if err != nil {
		return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
	}

	var groupID ir.GroupID
	for _, desc := range plan.Create {
		policy := planner.PolicyFor(desc.Role)
		sel, err := policy.Select(e.catalogs, selector.Request{
			Role:    desc.Role,
			Site:    desc.Site,
			At:      ref,
			Exclude: exclude,
		})
		if errors.Is(err, selector.ErrNoCatalogTarget) {
			log.Warn("skipping calibration without catalog target",
				"role", desc.Role,
				"key_hash", desc.KeyHash,
				"site", desc.Site.Code,
				"error", err,
			)
			res.Skipped = append(res.Skipped, Skipped{Role: desc.Role, KeyHash: desc.KeyHash, Reason: string(ErrCodeNoCatalogTarget)})
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("recalculate %s: select target: %w", programID, err)
		}

		if groupID == "" {
			groupID, err = d.Groups.EnsureCalibrationGroup(ctx, programID, func() ir.GroupID {
				return ir.GroupID(e.newID())
			})
			if err != nil {
				return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
			}
		}

		cal := ir.CalibrationObservation{
			ID:               ir.ObservationID(e.newID()),
			ProgramID:        programID,
			Title:            planner.Title(desc.Role, sel.Name),
			Role:             desc.Role,
			GroupID:          groupID,
			Key:              desc.Key,
			KeyHash:          desc.KeyHash,
			Params:           desc.Params,
			ReferenceInstant: ref,
		}
		target := ir.Target{
			ID:         ir.TargetID(e.newID()),
			ProgramID:  programID,
			Name:       sel.Name,
			Position:   sel.Position,
			Source:     sel.Source,
			CatalogRef: sel.CatalogRef,
		}
		cal.TargetID = target.ID

		if err := d.Targets.InsertTarget(ctx, target); err != nil {
			return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
		}
		if err := d.Observations.InsertCalibration(ctx, cal); err != nil {
			return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
		}
		if sel.CatalogRef != "" {
			exclude[sel.CatalogRef] = true
		}
		surviving = append(surviving, cal)
		res.Added = append(res.Added, cal.ID)
		diff.Added = append(diff.Added, cal)
	}

	if err := checkInvariants(programID, surviving); err != nil {
		return Result{}, err
	}

	if err := e.commitVersion(ctx, d, programID, version, !res.Empty()); err != nil {
		return Result{}, err
	}

	if _, err := events.NewEmitter(d.Publisher, e.logger).Emit(ctx, diff); err != nil {
		return Result{}, fmt.Errorf("recalculate %s: %w", programID, err)
	}

	log.Info("recalculated",
		"ref", ref.Format(time.RFC3339),
		"added", len(res.Added),
		"removed", len(res.Removed),
		"updated", len(res.Updated),
		"retained", len(res.Retained),
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// commitVersion advances the program version when the reconciliation
// changed anything. The bump is conditional on the version read at the
// start, so a write that raced past the program lock fails here.
func (e *Engine) commitVersion(ctx context.Context, d Deps, programID ir.ProgramID, version int64, changed bool) error {
	if !changed {
		return nil
	}
	if err := d.Versions.BumpProgramVersion(ctx, programID, version); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			return NewConcurrentModificationError(programID, err)
		}
		return fmt.Errorf("recalculate %s: %w", programID, err)
	}
	return nil
}

// assignedCatalogRefs collects the catalog references of cals' targets,
// skipping the calibration skip.
func assignedCatalogRefs(ctx context.Context, targets TargetStore, cals []ir.CalibrationObservation, skip ir.ObservationID) (map[string]bool, error) {
	refs := make(map[string]bool, len(cals))
	for _, c := range cals {
		if c.ID == skip || c.TargetID == "" {
			continue
		}
		t, err := targets.Target(ctx, c.TargetID)
		if err != nil {
			return nil, err
		}
		if t.CatalogRef != "" {
			refs[t.CatalogRef] = true
		}
	}
	return refs, nil
}

// checkInvariants verifies that no two calibrations share a target or a
// (role, key) identity.
func checkInvariants(programID ir.ProgramID, cals []ir.CalibrationObservation) error {
	targets := make(map[ir.TargetID]ir.ObservationID, len(cals))
	keys := make(map[planner.Identity]ir.ObservationID, len(cals))
	for _, c := range cals {
		if c.TargetID != "" {
			if other, ok := targets[c.TargetID]; ok {
				return NewInvariantViolation(programID, c.ID, "target %s already assigned to %s", c.TargetID, other)
			}
			targets[c.TargetID] = c.ID
		}
		id := planner.Identity{Role: c.Role, KeyHash: c.KeyHash}
		if other, ok := keys[id]; ok && !c.HasExecutionEvents {
			return NewInvariantViolation(programID, c.ID, "%s calibration for key %s duplicates %s", c.Role, c.KeyHash, other)
		}
		keys[id] = c.ID
	}
	return nil
}
