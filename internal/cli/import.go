package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/manifest"
	"github.com/roach88/obscal/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Recalc bool
	At     string
}

// ImportResult is the import command's JSON payload.
type ImportResult struct {
	ProgramID    ir.ProgramID  `json:"program_id"`
	Observations int           `json:"observations"`
	Recalculated *RecalcResult `json:"recalculated,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Load a program and its science observations",
		Long: `Load a program manifest into the database. The program is created if
needed and every science observation in the manifest is inserted or
replaced. Calibration observations are never overwritten.

Examples:
  obscal import program.yaml
  obscal import program.yaml --recalc --at 2025-03-20T08:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Recalc, "recalc", false, "reconcile the program after importing")
	cmd.Flags().StringVar(&opts.At, "at", "", "reference instant for --recalc, RFC 3339 (default now)")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	program, err := manifest.LoadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid, "invalid manifest", err)
	}
	ref, err := parseInstant(opts.At)
	if err != nil {
		return err
	}

	env, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	var n int
	err = env.store.WithTx(ctx, func(tx *store.Tx) error {
		n, err = program.Apply(ctx, tx)
		return err
	})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "import failed", err)
	}
	formatter.VerboseLog("Imported %d observation(s) into %s", n, program.ID)

	result := ImportResult{ProgramID: ir.ProgramID(program.ID), Observations: n}
	if opts.Recalc {
		res, err := env.engine.Recalculate(ctx, result.ProgramID, ref)
		if err != nil {
			return reconcileFailure(formatter, result.ProgramID, err)
		}
		result.Recalculated = &RecalcResult{ProgramID: result.ProgramID, Result: res}
	}

	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: imported %d observation(s)\n", result.ProgramID, n)
		if result.Recalculated != nil {
			writeResult(w, result.ProgramID, result.Recalculated.Result)
		}
	})
}
