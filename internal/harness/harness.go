package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/obscal/internal/catalog"
	"github.com/roach88/obscal/internal/engine"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/manifest"
	"github.com/roach88/obscal/internal/store"
	"github.com/roach88/obscal/internal/testutil"
)

// Harness executes one scenario against its own store and engine.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	program ir.ProgramID
	ref     time.Time
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential ids and
// the embedded standard catalog.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load the program manifest
// 3. Execute steps, checking each step's expectations
// 4. Snapshot calibrations, outbox events and the calibration group
// 5. Evaluate assertions against the snapshot
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cats, err := catalog.DefaultSet()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	h := &Harness{
		store: st,
		engine: engine.New(st, cats,
			engine.WithIDGenerator(testutil.NewSequentialIDs("id")),
			engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			engine.WithSweepWorkers(1),
		),
		program: ir.ProgramID(scenario.Program.ID),
		ref:     scenario.Reference(),
	}

	if _, err := scenario.Program.Apply(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		index := i + 1
		outcome, err := h.execute(ctx, step)
		if err != nil {
			outcome = map[string]any{"error": err.Error()}
		}
		result.addStep(index, step.Action, outcome)
		for _, msg := range checkExpect(step, outcome, err) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", index, step.Action, msg))
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, st Step) (map[string]any, error) {
	switch st.Action {
	case StepRecalc:
		res, err := h.engine.Recalculate(ctx, h.program, h.at(st))
		if err != nil {
			return nil, err
		}
		return resultOutcome(res), nil

	case StepSweep:
		results, err := h.engine.Sweep(ctx, h.at(st), nil)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if r.ProgramID != h.program {
				continue
			}
			if r.Err != nil {
				return nil, r.Err
			}
			return resultOutcome(r.Result), nil
		}
		return nil, fmt.Errorf("sweep did not visit %s", h.program)

	case StepRetarget:
		id, err := h.resolve(ctx, st)
		if err != nil {
			return nil, err
		}
		change, err := h.engine.RecalculateSingleTarget(ctx, h.program, id)
		if err != nil {
			return nil, err
		}
		target, err := h.store.Target(ctx, change.Calibration.TargetID)
		if err != nil {
			return nil, err
		}
		outcome := map[string]any{
			"calibration": string(id),
			"changed":     change.Changed,
			"target":      target.Name,
		}
		if change.Reason != "" {
			outcome["reason"] = change.Reason
		}
		return outcome, nil

	case StepSetState:
		n, err := h.store.SetWorkflowState(ctx, ir.ObservationID(st.Observation), st.State)
		return affectedOutcome(n), err

	case StepDelete:
		n, err := h.store.DeleteScienceObservation(ctx, ir.ObservationID(st.Observation))
		return affectedOutcome(n), err

	case StepSetTime:
		id, err := h.resolve(ctx, st)
		if err != nil {
			return nil, err
		}
		var at *time.Time
		if st.At != "none" {
			t := h.at(st)
			at = &t
		}
		n, err := h.store.SetObservationTime(ctx, id, at)
		return affectedOutcome(n), err

	case StepExec:
		id, err := h.resolve(ctx, st)
		if err != nil {
			return nil, err
		}
		kind := st.Kind
		if kind == "" {
			kind = defaultExecKind
		}
		if err := h.store.RecordExecutionEvent(ctx, id, kind, h.at(st)); err != nil {
			return nil, err
		}
		return map[string]any{"observation": string(id)}, nil

	case StepPut:
		p := manifest.Program{ID: string(h.program), Observations: []manifest.Observation{*st.Science}}
		obs, err := p.ScienceObservations()
		if err != nil {
			return nil, err
		}
		if err := h.store.PutScienceObservation(ctx, obs[0]); err != nil {
			return nil, err
		}
		return map[string]any{"observation": st.Science.ID}, nil

	case StepEdit:
		id, err := h.resolve(ctx, st)
		if err != nil {
			return nil, err
		}
		principal := store.PrincipalUser
		if st.Principal == "service" {
			principal = store.PrincipalService
		}
		n, err := h.store.UpdateObservationConstraints(ctx, principal, id, st.Constraints)
		return affectedOutcome(n), err

	case StepClone:
		id, err := h.resolve(ctx, st)
		if err != nil {
			return nil, err
		}
		n, err := h.store.CloneObservation(ctx, id, ir.ObservationID(st.CloneID))
		return affectedOutcome(n), err
	}
	return nil, fmt.Errorf("unknown action %q", st.Action)
}

// at returns the step's instant, defaulting to the scenario reference.
func (h *Harness) at(st Step) time.Time {
	if st.At == "" || st.At == "none" {
		return h.ref
	}
	t, _ := time.Parse(time.RFC3339, st.At)
	return t.UTC()
}

// resolve maps a step's observation or role to an observation id.
func (h *Harness) resolve(ctx context.Context, st Step) (ir.ObservationID, error) {
	if st.Observation != "" {
		return ir.ObservationID(st.Observation), nil
	}
	cals, err := h.store.Calibrations(ctx, h.program)
	if err != nil {
		return "", err
	}
	for _, c := range cals {
		if c.Role == st.Role {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no %s calibration", st.Role)
}

func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	cals, err := h.store.Calibrations(ctx, h.program)
	if err != nil {
		return err
	}
	for _, c := range cals {
		var name string
		if c.TargetID != "" {
			t, err := h.store.Target(ctx, c.TargetID)
			if err != nil {
				return err
			}
			name = t.Name
		}
		result.Calibrations = append(result.Calibrations, CalibrationSnapshot{
			ID:                  c.ID,
			Role:                c.Role,
			Title:               c.Title,
			Group:               c.GroupID,
			Target:              name,
			ReferenceWavelength: c.Params.ReferenceWavelength,
			Executed:            c.HasExecutionEvents,
		})
	}

	evs, err := h.store.EditEvents(ctx, h.program, 0)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		result.Events = append(result.Events, EventSnapshot{
			Seq:         ev.Seq,
			Kind:        string(ev.Kind),
			Observation: ev.ObservationID,
		})
	}

	group, err := h.store.CalibrationGroup(ctx, h.program)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		result.Group = group.Name
	}
	return nil
}

func resultOutcome(res engine.Result) map[string]any {
	skipped := make([]any, 0, len(res.Skipped))
	for _, s := range res.Skipped {
		skipped = append(skipped, string(s.Role))
	}
	return map[string]any{
		"added":    idList(res.Added),
		"removed":  idList(res.Removed),
		"updated":  idList(res.Updated),
		"retained": idList(res.Retained),
		"skipped":  skipped,
	}
}

func affectedOutcome(n int64) map[string]any {
	return map[string]any{"affected": n}
}

func idList(ids []ir.ObservationID) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

// checkExpect compares a step's outcome with its expectations.
func checkExpect(st Step, outcome map[string]any, err error) []string {
	exp := st.Expect
	if err != nil {
		if exp == nil || exp.Error == "" {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		if !strings.Contains(err.Error(), exp.Error) {
			return []string{fmt.Sprintf("expected error containing %q, got %q", exp.Error, err.Error())}
		}
		return nil
	}
	if exp == nil {
		return nil
	}
	if exp.Error != "" {
		return []string{fmt.Sprintf("expected error containing %q, step succeeded", exp.Error)}
	}

	var msgs []string
	count := func(field string, want *int) {
		if want == nil {
			return
		}
		got, ok := outcome[field].([]any)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s is not reported by %s", field, st.Action))
			return
		}
		if len(got) != *want {
			msgs = append(msgs, fmt.Sprintf("expected %d %s, got %d %v", *want, field, len(got), got))
		}
	}
	count("added", exp.Added)
	count("removed", exp.Removed)
	count("updated", exp.Updated)
	count("retained", exp.Retained)
	count("skipped", exp.Skipped)

	if exp.Changed != nil {
		if got, ok := outcome["changed"].(bool); !ok || got != *exp.Changed {
			msgs = append(msgs, fmt.Sprintf("expected changed=%t, got %v", *exp.Changed, outcome["changed"]))
		}
	}
	if exp.Affected != nil {
		if got, ok := outcome["affected"].(int64); !ok || got != *exp.Affected {
			msgs = append(msgs, fmt.Sprintf("expected %d row(s) affected, got %v", *exp.Affected, outcome["affected"]))
		}
	}
	return msgs
}
