package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/obscal/internal/ir"
)

var refInstant = time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProgram(t *testing.T, s *Store, id ir.ProgramID) {
	t.Helper()
	if err := s.CreateProgram(context.Background(), id, "test program"); err != nil {
		t.Fatalf("CreateProgram(%s) failed: %v", id, err)
	}
}

func seedTarget(t *testing.T, s *Store, id ir.TargetID, program ir.ProgramID, catalogRef string) {
	t.Helper()
	source := ir.SourceEphemeris
	if catalogRef != "" {
		source = ir.SourceCatalog
	}
	err := s.InsertTarget(context.Background(), ir.Target{
		ID:         id,
		ProgramID:  program,
		Name:       "target " + string(id),
		Position:   ir.Coordinates{RA: 1000, Dec: -2000},
		Source:     source,
		CatalogRef: catalogRef,
	})
	if err != nil {
		t.Fatalf("InsertTarget(%s) failed: %v", id, err)
	}
}

func testConfig() *ir.InstrumentConfig {
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

// testCalibration builds a spectrophotometric calibration on target.
// The target row must exist before insert.
func testCalibration(id ir.ObservationID, program ir.ProgramID, target ir.TargetID) ir.CalibrationObservation {
	key := ir.NewConfigurationKey(ir.RoleSpectroPhotometric, *testConfig(), false)
	return ir.CalibrationObservation{
		ID:               id,
		ProgramID:        program,
		Title:            "Spectrophotometric standard: " + string(target),
		Role:             ir.RoleSpectroPhotometric,
		TargetID:         target,
		Key:              key,
		KeyHash:          key.Hash(),
		Params:           ir.CalibrationParams{ReferenceWavelength: ir.Nanometers(510)},
		ReferenceInstant: refInstant,
	}
}

func testScience(id ir.ObservationID, program ir.ProgramID) ir.ScienceObservation {
	return ir.ScienceObservation{
		ID:                  id,
		ProgramID:           program,
		Title:               "science " + string(id),
		State:               ir.StateReady,
		Config:              testConfig(),
		ReferenceWavelength: ir.Nanometers(500),
	}
}
