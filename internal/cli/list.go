package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/store"
)

// NewListCommand creates the list command and its subcommands.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List programs, calibrations or science observations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "programs",
		Short: "List programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListPrograms(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "calibrations <program>",
		Short: "List a program's calibration observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListCalibrations(rootOpts, ir.ProgramID(args[0]), cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "science <program>",
		Short: "List a program's science observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListScience(rootOpts, ir.ProgramID(args[0]), cmd)
		},
	})

	return cmd
}

func runListPrograms(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	programs, err := env.store.ListPrograms(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "list programs failed", err)
	}
	return formatter.Render(programs, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tTITLE")
		for _, p := range programs {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", p.ID, p.CalibrationVersion, p.Title)
		}
		tw.Flush()
	})
}

// CalibrationView is a calibration with its resolved target.
type CalibrationView struct {
	ir.CalibrationObservation
	Target *ir.Target `json:"target,omitempty"`
}

func runListCalibrations(opts *RootOptions, programID ir.ProgramID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	if _, err := env.store.ProgramVersion(ctx, programID); errors.Is(err, store.ErrProgramNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("program %s not found", programID), err)
	}
	cals, err := env.store.Calibrations(ctx, programID)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "list calibrations failed", err)
	}

	views := make([]CalibrationView, 0, len(cals))
	for _, c := range cals {
		v := CalibrationView{CalibrationObservation: c}
		if c.TargetID != "" {
			t, err := env.store.Target(ctx, c.TargetID)
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeGeneric, "list calibrations failed", err)
			}
			v.Target = &t
		}
		views = append(views, v)
	}

	return formatter.Render(views, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROLE\tTARGET\tREF WAVELENGTH\tEXECUTED\tTITLE")
		for _, v := range views {
			target := "-"
			if v.Target != nil {
				target = v.Target.Name
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
				v.ID, v.Role, target, v.Params.ReferenceWavelength, v.HasExecutionEvents, v.Title)
		}
		tw.Flush()
	})
}

func runListScience(opts *RootOptions, programID ir.ProgramID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	obs, err := env.store.ScienceObservations(cmd.Context(), programID)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "list science failed", err)
	}
	return formatter.Render(obs, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATE\tINSTRUMENT\tREF WAVELENGTH\tTITLE")
		for _, o := range obs {
			instrument := "-"
			if o.Config != nil {
				instrument = string(o.Config.Instrument)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.State, instrument, o.ReferenceWavelength, o.Title)
		}
		tw.Flush()
	})
}
