package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/obscal/internal/ir"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After int64
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events <program>",
		Short: "List a program's edit events",
		Long: `List the edit events reconciliation published for a program, in
publication order. Use --after with the last seen sequence number to read
only newer events.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, ir.ProgramID(args[0]), cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with a greater sequence number")

	return cmd
}

func runEvents(opts *EventsOptions, programID ir.ProgramID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	env, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	evs, err := env.store.EditEvents(cmd.Context(), programID, opts.After)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "list events failed", err)
	}
	return formatter.Render(evs, func(w io.Writer) {
		for _, ev := range evs {
			line := fmt.Sprintf("%d\t%s\t%s", ev.Seq, ev.Kind, ev.ObservationID)
			if ev.Value != nil {
				line += "\t" + ev.Value.Title
			}
			fmt.Fprintln(w, line)
		}
	})
}

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Kind string
	At   string
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <observation>",
		Short: "Record an execution event",
		Long: `Record that an observation started executing. A calibration with
execution events is never deleted and keeps its target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, ir.ObservationID(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "slew", "execution event kind")
	cmd.Flags().StringVar(&opts.At, "at", "", "event time, RFC 3339 (default now)")

	return cmd
}

func runExec(opts *ExecOptions, id ir.ObservationID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	at, err := parseInstant(opts.At)
	if err != nil {
		return err
	}
	env, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.RecordExecutionEvent(cmd.Context(), id, opts.Kind, at); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("record execution of %s failed", id), err)
	}
	evs, err := env.store.ExecutionEvents(cmd.Context(), id)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("read executions of %s failed", id), err)
	}
	return formatter.Render(evs, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d execution event(s)\n", id, len(evs))
	})
}

// EditResult is the JSON payload of the state and time commands.
type EditResult struct {
	ObservationID ir.ObservationID `json:"observation_id"`
	Affected      int64            `json:"affected"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <observation> <state>",
		Short: "Change a science observation's workflow state",
		Long: `Change a science observation's workflow state. Calibration observations
have no user-editable state. Run recalc afterwards to reconcile.

States: undefined, unapproved, defined, ready, ongoing, completed, inactive`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(rootOpts, ir.ObservationID(args[0]), ir.WorkflowState(args[1]), cmd)
		},
	}
}

func runState(opts *RootOptions, id ir.ObservationID, state ir.WorkflowState, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if !ir.ValidWorkflowStates[state] {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid, fmt.Sprintf("invalid state %q", state), nil)
	}

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := env.store.SetWorkflowState(cmd.Context(), id, state)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "set state failed", err)
	}
	if n == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no science observation %s", id), nil)
	}
	return formatter.Render(EditResult{ObservationID: id, Affected: n}, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", id, state)
	})
}

// NewTimeCommand creates the time command.
func NewTimeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "time <observation> <instant|none>",
		Short: "Set or clear an observation's observation time",
		Long: `Set an observation's observation time (RFC 3339), or clear it with
"none". Calibration observations accept this edit; run retarget afterwards to
re-select the calibration's target for the new time.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTime(rootOpts, ir.ObservationID(args[0]), args[1], cmd)
		},
	}
}

func runTime(opts *RootOptions, id ir.ObservationID, value string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var at *time.Time
	if value != "none" {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalid, fmt.Sprintf("invalid instant %q", value), err)
		}
		t = t.UTC()
		at = &t
	}

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := env.store.SetObservationTime(cmd.Context(), id, at)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "set observation time failed", err)
	}
	if n == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no observation %s", id), nil)
	}
	return formatter.Render(EditResult{ObservationID: id, Affected: n}, func(w io.Writer) {
		fmt.Fprintf(w, "%s: observation time %s\n", id, value)
	})
}

