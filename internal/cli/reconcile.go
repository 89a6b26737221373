package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/obscal/internal/engine"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/store"
)

// RecalcOptions holds flags for the recalc command.
type RecalcOptions struct {
	*RootOptions
	At string
}

// RecalcResult is the recalc command's JSON payload.
type RecalcResult struct {
	ProgramID ir.ProgramID  `json:"program_id"`
	Result    engine.Result `json:"result"`
}

// NewRecalcCommand creates the recalc command.
func NewRecalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecalcOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recalc <program>",
		Short: "Reconcile a program's calibrations",
		Long: `Recompute the calibrations a program's active science observations need
and create, update or delete calibration observations to match.

Running recalc twice with no change in between is a no-op.

Examples:
  obscal recalc p1
  obscal recalc p1 --at 2025-03-20T08:00:00Z --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecalc(opts, ir.ProgramID(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "reference instant, RFC 3339 (default now)")

	return cmd
}

func runRecalc(opts *RecalcOptions, programID ir.ProgramID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ref, err := parseInstant(opts.At)
	if err != nil {
		return err
	}

	env, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.engine.Recalculate(cmd.Context(), programID, ref)
	if err != nil {
		return reconcileFailure(formatter, programID, err)
	}

	return formatter.Render(RecalcResult{ProgramID: programID, Result: res}, func(w io.Writer) {
		writeResult(w, programID, res)
	})
}

func writeResult(w io.Writer, programID ir.ProgramID, res engine.Result) {
	if res.Empty() && len(res.Skipped) == 0 {
		fmt.Fprintf(w, "%s: up to date\n", programID)
		return
	}
	fmt.Fprintf(w, "%s: %d added, %d removed, %d updated, %d retained, %d skipped\n",
		programID, len(res.Added), len(res.Removed), len(res.Updated), len(res.Retained), len(res.Skipped))
	fmt.Fprintf(w, "  added:    %s\n", idStrings(res.Added))
	fmt.Fprintf(w, "  removed:  %s\n", idStrings(res.Removed))
	fmt.Fprintf(w, "  updated:  %s\n", idStrings(res.Updated))
	fmt.Fprintf(w, "  retained: %s\n", idStrings(res.Retained))
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped:  %s %s (%s)\n", s.Role, s.KeyHash, s.Reason)
	}
}

// reconcileFailure reports an engine error with an exit code matching its
// cause.
func reconcileFailure(f *OutputFormatter, programID ir.ProgramID, err error) error {
	switch {
	case errors.Is(err, store.ErrProgramNotFound):
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("program %s not found", programID), err)
	case engine.IsCalibrationNotFound(err):
		return f.Fail(ExitCommandError, ErrCodeNotFound, "calibration not found", err)
	case engine.IsConcurrentModification(err):
		return f.Fail(ExitFailure, ErrCodeConflict, fmt.Sprintf("program %s changed concurrently, retry", programID), err)
	}
	return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("reconciliation of %s failed", programID), err)
}

// NewRetargetCommand creates the retarget command.
func NewRetargetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retarget <program> <calibration>",
		Short: "Re-select one calibration's target",
		Long: `Re-select the target of one calibration at its observation time, or at
its reference instant when no observation time is set. The calibration keeps
its id; only its target and title change. Executed calibrations keep their
target.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetarget(rootOpts, ir.ProgramID(args[0]), ir.ObservationID(args[1]), cmd)
		},
	}
	return cmd
}

func runRetarget(opts *RootOptions, programID ir.ProgramID, id ir.ObservationID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	change, err := env.engine.RecalculateSingleTarget(cmd.Context(), programID, id)
	if err != nil {
		return reconcileFailure(formatter, programID, err)
	}

	return formatter.Render(change, func(w io.Writer) {
		if change.Changed {
			fmt.Fprintf(w, "%s: retargeted, now %q\n", id, change.Calibration.Title)
			return
		}
		fmt.Fprintf(w, "%s: target kept (%s)\n", id, change.Reason)
	})
}

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	At      string
	Workers int
}

// SweepEntry is one program's line in the sweep JSON payload.
type SweepEntry struct {
	ProgramID ir.ProgramID   `json:"program_id"`
	Result    *engine.Result `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SweepReport is the sweep command's JSON payload.
type SweepReport struct {
	Programs []SweepEntry `json:"programs"`
	Failed   int          `json:"failed"`
	Stats    engine.Stats `json:"stats"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep [program...]",
		Short: "Reconcile many programs concurrently",
		Long: `Reconcile the named programs, or every program when none are named.
Programs are reconciled concurrently, one reconciliation per program at a
time. A failing program does not stop the sweep.

Exit codes:
  0 - Every program reconciled
  1 - One or more programs failed
  2 - Command error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			programs := make([]ir.ProgramID, len(args))
			for i, a := range args {
				programs[i] = ir.ProgramID(a)
			}
			return runSweep(opts, programs, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "reference instant, RFC 3339 (default now)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent programs (default from config)")

	return cmd
}

func runSweep(opts *SweepOptions, programs []ir.ProgramID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ref, err := parseInstant(opts.At)
	if err != nil {
		return err
	}

	var extra []engine.Option
	if opts.Workers > 0 {
		extra = append(extra, engine.WithSweepWorkers(opts.Workers))
	}
	env, err := openEnv(opts.RootOptions, cmd, extra...)
	if err != nil {
		return err
	}
	defer env.Close()

	results, err := env.engine.Sweep(cmd.Context(), ref, programs)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "sweep failed", err)
	}

	report := SweepReport{Programs: make([]SweepEntry, 0, len(results)), Stats: env.engine.Stats()}
	for _, r := range results {
		entry := SweepEntry{ProgramID: r.ProgramID}
		if r.Err != nil {
			entry.Error = r.Err.Error()
			report.Failed++
		} else {
			res := r.Result
			entry.Result = &res
		}
		report.Programs = append(report.Programs, entry)
	}

	if err := formatter.Render(report, func(w io.Writer) {
		for _, e := range report.Programs {
			if e.Error != "" {
				fmt.Fprintf(w, "%s: FAILED: %s\n", e.ProgramID, e.Error)
				continue
			}
			writeResult(w, e.ProgramID, *e.Result)
		}
		fmt.Fprintf(w, "\nSweep Summary: %d program(s), %d failed\n", len(report.Programs), report.Failed)
	}); err != nil {
		return err
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d program(s) failed", report.Failed))
	}
	return nil
}
