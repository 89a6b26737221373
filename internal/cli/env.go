package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/obscal/internal/catalog"
	"github.com/roach88/obscal/internal/config"
	"github.com/roach88/obscal/internal/engine"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/store"
)

// env is the state shared by commands that touch the database.
type env struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// openEnv loads configuration, opens the store and builds the engine.
// Flags override configuration values.
func openEnv(opts *RootOptions, cmd *cobra.Command, engineOpts ...engine.Option) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := newLogger(opts, cfg, cmd)

	cats, err := loadCatalogs(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	all := append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithSweepWorkers(cfg.SweepWorkers),
	}, engineOpts...)

	return &env{
		cfg:    cfg,
		store:  st,
		engine: engine.New(st, cats, all...),
		logger: logger,
	}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

func newLogger(opts *RootOptions, cfg config.Config, cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadCatalogs builds the standard-star catalog set: the configured
// catalog file, or the embedded one.
func loadCatalogs(cfg config.Config) (*catalog.Set, error) {
	var (
		c   *catalog.Catalog
		err error
	)
	if cfg.Catalog != "" {
		c, err = catalog.LoadFile(cfg.Catalog)
	} else {
		c, err = catalog.Default()
	}
	if err != nil {
		return nil, err
	}
	return catalog.NewSet(cfg.MinAltitude).With(ir.RoleSpectroPhotometric, c), nil
}

// parseInstant parses an RFC 3339 flag value. Empty means now.
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid instant %q: want RFC 3339, e.g. 2025-03-20T08:00:00Z", s))
	}
	return t.UTC(), nil
}

func idStrings(ids []ir.ObservationID) string {
	if len(ids) == 0 {
		return "-"
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return strings.Join(out, ", ")
}
