package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/obscal/internal/catalog"
	"github.com/roach88/obscal/internal/config"
	"github.com/roach88/obscal/internal/ir"
)

// NewCatalogCommand creates the catalog command and its subcommands.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect standard-star catalogs",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	cmd.AddCommand(newCatalogRankCommand(rootOpts))
	return cmd
}

// CatalogValidation is the catalog validate JSON payload.
type CatalogValidation struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Path    string `json:"path"`
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Validate a catalog file against the catalog schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("catalog not found: %s", path), err)
			}
			c, err := catalog.LoadFile(path)
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeInvalid, "catalog is invalid", err)
			}
			res := CatalogValidation{Valid: true, Entries: c.Len(), Path: path}
			return formatter.Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s: %d entries\n", path, res.Entries)
			})
		},
	}
}

// RankedEntry is one row of catalog rank output.
type RankedEntry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Altitude float64 `json:"altitude"`
	Cost     int64   `json:"cost"`
}

func newCatalogRankCommand(rootOpts *RootOptions) *cobra.Command {
	var site, at string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank standard stars at a site and instant",
		Long: `Rank the configured standard-star catalog at a site and instant, best
candidate first. Stars below the configured minimum altitude are omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			var instrument ir.Instrument
			switch site {
			case "GN":
				instrument = ir.GmosNorth
			case "GS":
				instrument = ir.GmosSouth
			default:
				return formatter.Fail(ExitCommandError, ErrCodeInvalid, fmt.Sprintf("unknown site %q: must be GN or GS", site), nil)
			}
			s, _ := ir.SiteFor(instrument)

			when, err := parseInstant(at)
			if err != nil {
				return err
			}
			cfg, err := config.Load(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			cats, err := loadCatalogs(cfg)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalid, "failed to load catalog", err)
			}

			ranked := []RankedEntry{}
			for _, c := range cats.Candidates(ir.RoleSpectroPhotometric, s, when) {
				ranked = append(ranked, RankedEntry{ID: c.Entry.ID, Name: c.Entry.Name, Altitude: c.Altitude, Cost: c.Cost})
			}
			return formatter.Render(ranked, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tALTITUDE")
				for _, r := range ranked {
					fmt.Fprintf(tw, "%s\t%s\t%.2f\n", r.ID, r.Name, r.Altitude)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&site, "site", "GN", "site code (GN|GS)")
	cmd.Flags().StringVar(&at, "at", "", "instant, RFC 3339 (default now)")
	return cmd
}
