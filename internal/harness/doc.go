// Package harness runs reconciliation scenarios against a fresh in-memory
// store and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: end_to_end
//	description: "Two calibrations are created once"
//	reference_instant: "2025-03-20T08:00:00Z"
//	program:
//	  id: p1
//	  observations:
//	    - id: o1
//	      state: ready
//	      reference_wavelength: 500nm
//	      config: { instrument: GmosNorth, ... }
//	steps:
//	  - action: recalc
//	    expect: { added: 2 }
//	  - action: exec
//	    role: spectrophotometric
//	  - action: set_state
//	    observation: o1
//	    state: inactive
//	assertions:
//	  - type: calibration_count
//	    count: 1
//	  - type: calibration
//	    role: spectrophotometric
//	    target: Feige 34
//
// Steps that act on a calibration name it by id (observation) or by role;
// a role resolves to the lowest-id calibration with that role.
//
// # Determinism
//
// Every run uses sequential ids (id-0001, id-0002, ...), the embedded
// standard catalog and a fixed reference instant, so the same scenario
// always yields byte-identical snapshots. Snapshots are canonical JSON and
// are compared against golden files with goldie.
package harness
