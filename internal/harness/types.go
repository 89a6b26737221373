package harness

import "github.com/roach88/obscal/internal/ir"

// StepRecord is the observed outcome of one step.
type StepRecord struct {
	Index   int            `json:"index"`
	Action  string         `json:"action"`
	Outcome map[string]any `json:"outcome"`
}

// CalibrationSnapshot is a calibration as it stands after the last step.
type CalibrationSnapshot struct {
	ID                  ir.ObservationID   `json:"id"`
	Role                ir.CalibrationRole `json:"role"`
	Title               string             `json:"title"`
	Group               ir.GroupID         `json:"group"`
	Target              string             `json:"target"`
	ReferenceWavelength ir.Wavelength      `json:"reference_wavelength"`
	Executed            bool               `json:"executed"`
}

// EventSnapshot is one outbox event.
type EventSnapshot struct {
	Seq         int64            `json:"seq"`
	Kind        string           `json:"kind"`
	Observation ir.ObservationID `json:"observation"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Steps []StepRecord `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Calibrations []CalibrationSnapshot `json:"calibrations"`
	Events       []EventSnapshot       `json:"events"`
	// Group is the calibration group name, empty when none exists.
	Group string `json:"group,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Steps:        []StepRecord{},
		Errors:       []string{},
		Calibrations: []CalibrationSnapshot{},
		Events:       []EventSnapshot{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(index int, action string, outcome map[string]any) {
	r.Steps = append(r.Steps, StepRecord{Index: index, Action: action, Outcome: outcome})
}

// calibrationsWithRole returns the snapshots with role, in id order. An
// empty role matches all.
func (r *Result) calibrationsWithRole(role ir.CalibrationRole) []CalibrationSnapshot {
	var out []CalibrationSnapshot
	for _, c := range r.Calibrations {
		if role == "" || c.Role == role {
			out = append(out, c)
		}
	}
	return out
}
