package planner

import (
	"fmt"

	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/selector"
)

// AggregateFunc folds a class's contributors into calibration parameters.
type AggregateFunc func(contributors []ir.ScienceObservation) ir.CalibrationParams

// Policy is the fixed per-role behavior.
type Policy struct {
	Role ir.CalibrationRole
	// IncludeROI controls whether region of interest is part of the key.
	IncludeROI bool
	Aggregate  AggregateFunc
	Select     selector.Func
	// TitlePrefix is the display prefix for calibration titles.
	TitlePrefix string
}

// Policies is the closed role table.
var Policies = map[ir.CalibrationRole]Policy{
	ir.RoleSpectroPhotometric: {
		Role:        ir.RoleSpectroPhotometric,
		IncludeROI:  false,
		Aggregate:   meanReferenceWavelength,
		Select:      selector.FromCatalog,
		TitlePrefix: "Spectrophotometric standard",
	},
	ir.RoleTwilight: {
		Role:        ir.RoleTwilight,
		IncludeROI:  true,
		Aggregate:   meanReferenceWavelength,
		Select:      selector.FromEphemeris,
		TitlePrefix: "Twilight flat",
	},
}

// PolicyFor returns the policy of role. Roles are a closed set, so an
// unknown role is a programming error.
func PolicyFor(role ir.CalibrationRole) Policy {
	p, ok := Policies[role]
	if !ok {
		panic(fmt.Sprintf("planner: no policy for calibration role %q", role))
	}
	return p
}

// Title renders the display title of a calibration for its target name.
func Title(role ir.CalibrationRole, targetName string) string {
	return fmt.Sprintf("%s: %s", PolicyFor(role).TitlePrefix, targetName)
}

// ReferenceWavelength is the wavelength a science observation contributes
// to aggregation: its S/N reference wavelength, or the central wavelength
// when none is set.
func ReferenceWavelength(obs ir.ScienceObservation) ir.Wavelength {
	if obs.ReferenceWavelength > 0 {
		return obs.ReferenceWavelength
	}
	if obs.Config != nil {
		return obs.Config.CentralWavelength
	}
	return 0
}

func meanReferenceWavelength(contributors []ir.ScienceObservation) ir.CalibrationParams {
	ws := make([]ir.Wavelength, 0, len(contributors))
	for _, obs := range contributors {
		ws = append(ws, ReferenceWavelength(obs))
	}
	return ir.CalibrationParams{ReferenceWavelength: ir.MeanWavelength(ws)}
}
