// Package config loads obscal configuration from CUE.
//
// A configuration file is unified with the embedded #Config schema, which
// supplies defaults and rejects unknown fields and out-of-range values.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	Database     string  `json:"database"`
	Catalog      string  `json:"catalog,omitempty"`
	MinAltitude  float64 `json:"min_altitude"`
	SweepWorkers int     `json:"sweep_workers"`
	LogLevel     string  `json:"log_level"`
}

// Default returns the schema defaults.
func Default() (Config, error) {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return Config{}, err
	}
	return decode(def)
}

// Load reads configuration from path, which may be a single .cue file or a
// directory holding one CUE package. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default()
	}

	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return Config{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var v cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return Config{}, fmt.Errorf("config: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
		}
		v = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		v = ctx.CompileBytes(data, cue.Filename(path))
	}
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %s", formatCUEError(err))
	}

	return decode(def.Unify(v))
}

// Parse reads configuration from CUE source.
func Parse(src []byte) (Config, error) {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return Config{}, err
	}
	v := ctx.CompileBytes(src, cue.Filename("config.cue"))
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %s", formatCUEError(err))
	}
	return decode(def.Unify(v))
}

func schema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("config schema: %s", formatCUEError(err))
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

func decode(v cue.Value) (Config, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("config: %s", formatCUEError(err))
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s", formatCUEError(err))
	}
	return cfg, nil
}

// formatCUEError flattens a CUE error list into one line per error with
// its position.
func formatCUEError(err error) string {
	return errors.Details(err, nil)
}
