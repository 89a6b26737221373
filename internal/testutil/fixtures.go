package testutil

import (
	"time"

	"github.com/roach88/obscal/internal/ir"
)

// RefInstant is the reference instant most tests reconcile at.
var RefInstant = time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC)

// Config returns a complete GMOS-N long-slit configuration.
func Config() *ir.InstrumentConfig {
	return &ir.InstrumentConfig{
		Instrument:        ir.GmosNorth,
		Grating:           "B600_G5307",
		FPU:               "LongSlit_1_00",
		XBin:              2,
		YBin:              2,
		AmpGain:           "Low",
		AmpReadMode:       "Slow",
		CentralWavelength: ir.Nanometers(500),
		ROI:               "CentralSpectrum",
	}
}

// ObsOption mutates a science observation fixture.
type ObsOption func(*ir.ScienceObservation)

// WithState sets the workflow state.
func WithState(s ir.WorkflowState) ObsOption {
	return func(o *ir.ScienceObservation) { o.State = s }
}

// WithROI sets the region of interest.
func WithROI(roi string) ObsOption {
	return func(o *ir.ScienceObservation) { o.Config.ROI = roi }
}

// WithReferenceWavelength sets the S/N reference wavelength in nm.
func WithReferenceWavelength(nm float64) ObsOption {
	return func(o *ir.ScienceObservation) { o.ReferenceWavelength = ir.Nanometers(nm) }
}

// WithInstrument sets the instrument.
func WithInstrument(i ir.Instrument) ObsOption {
	return func(o *ir.ScienceObservation) { o.Config.Instrument = i }
}

// WithGrating sets the grating.
func WithGrating(g string) ObsOption {
	return func(o *ir.ScienceObservation) { o.Config.Grating = g }
}

// WithoutConfig removes the instrument configuration.
func WithoutConfig() ObsOption {
	return func(o *ir.ScienceObservation) { o.Config = nil }
}

// Science returns a ready, fully configured science observation.
func Science(id string, program ir.ProgramID, opts ...ObsOption) ir.ScienceObservation {
	obs := ir.ScienceObservation{
		ID:                  ir.ObservationID(id),
		ProgramID:           program,
		Title:               "Science " + id,
		State:               ir.StateReady,
		Config:              Config(),
		ReferenceWavelength: ir.Nanometers(500),
	}
	for _, opt := range opts {
		opt(&obs)
	}
	return obs
}
