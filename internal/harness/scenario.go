package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/manifest"
	"github.com/roach88/obscal/internal/testutil"
)

// Scenario is a reconciliation test: a program, a sequence of steps that
// change it, and assertions on the final state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// ReferenceInstant is the RFC 3339 instant recalc steps use unless a
	// step sets its own. Defaults to testutil.RefInstant.
	ReferenceInstant string `yaml:"reference_instant,omitempty"`

	// Program is loaded into the store before the first step.
	Program manifest.Program `yaml:"program"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step kinds.
const (
	StepRecalc      = "recalc"
	StepRetarget    = "retarget"
	StepSetState    = "set_state"
	StepSetTime     = "set_time"
	StepDelete      = "delete"
	StepExec        = "exec"
	StepPut         = "put"
	StepEdit        = "edit_constraints"
	StepClone       = "clone"
	StepSweep       = "sweep"
	defaultExecKind = "slew"
)

// Step is one action in a scenario.
type Step struct {
	Action string `yaml:"action"`

	// Observation names the observation acted on. Role names a calibration
	// when its id is not known up front.
	Observation string             `yaml:"observation,omitempty"`
	Role        ir.CalibrationRole `yaml:"role,omitempty"`

	// State is the new workflow state for set_state.
	State ir.WorkflowState `yaml:"state,omitempty"`

	// At is an RFC 3339 instant: the reference instant for recalc and
	// sweep, the event time for exec and the observation time for
	// set_time. For set_time, "none" clears the time.
	At string `yaml:"at,omitempty"`

	// Kind is the execution event kind for exec.
	Kind string `yaml:"kind,omitempty"`

	// Constraints and Principal drive edit_constraints. Principal is
	// "user" (default) or "service".
	Constraints string `yaml:"constraints,omitempty"`
	Principal   string `yaml:"principal,omitempty"`

	// Science is the observation written by put.
	Science *manifest.Observation `yaml:"science,omitempty"`

	// CloneID is the new id for clone.
	CloneID string `yaml:"clone_id,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a step's outcome. Unset fields are not checked.
type Expect struct {
	Added    *int `yaml:"added,omitempty"`
	Removed  *int `yaml:"removed,omitempty"`
	Updated  *int `yaml:"updated,omitempty"`
	Retained *int `yaml:"retained,omitempty"`
	Skipped  *int `yaml:"skipped,omitempty"`

	// Changed checks a retarget outcome.
	Changed *bool `yaml:"changed,omitempty"`

	// Affected checks the row count of an edit step.
	Affected *int64 `yaml:"affected,omitempty"`

	// Error is a substring the step's error must contain. A step without
	// Error must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertCalibrationCount = "calibration_count"
	AssertCalibration      = "calibration"
	AssertGroup            = "group"
	AssertEditEvents       = "edit_events"
)

// Assertion validates the final state.
type Assertion struct {
	// Type is one of calibration_count, calibration, group, edit_events.
	Type string `yaml:"type"`

	// Role filters calibration_count and selects the calibration checked
	// by calibration.
	Role ir.CalibrationRole `yaml:"role,omitempty"`

	// Count is the expected number of calibrations.
	Count *int `yaml:"count,omitempty"`

	// Expected calibration fields. Empty values are not checked.
	Title               string        `yaml:"title,omitempty"`
	Target              string        `yaml:"target,omitempty"`
	ReferenceWavelength ir.Wavelength `yaml:"reference_wavelength,omitempty"`
	Executed            *bool         `yaml:"executed,omitempty"`

	// Exists checks whether the calibration group exists.
	Exists *bool `yaml:"exists,omitempty"`

	// Kinds is the exact sequence of outbox event kinds.
	Kinds []string `yaml:"kinds,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Reference returns the scenario's reference instant.
func (s *Scenario) Reference() time.Time {
	if s.ReferenceInstant == "" {
		return testutil.RefInstant
	}
	// validateScenario has already parsed it.
	t, _ := time.Parse(time.RFC3339, s.ReferenceInstant)
	return t.UTC()
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.ReferenceInstant != "" {
		if _, err := time.Parse(time.RFC3339, s.ReferenceInstant); err != nil {
			return fmt.Errorf("reference_instant: %w", err)
		}
	}
	if err := s.Program.Validate(); err != nil {
		return fmt.Errorf("program: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	needsTarget := func() error {
		if st.Observation == "" && st.Role == "" {
			return fmt.Errorf("steps[%d]: %s needs observation or role", index, st.Action)
		}
		if st.Role != "" && !st.Role.Valid() {
			return fmt.Errorf("steps[%d]: unknown role %q", index, st.Role)
		}
		return nil
	}

	if st.At != "" && !(st.Action == StepSetTime && st.At == "none") {
		if _, err := time.Parse(time.RFC3339, st.At); err != nil {
			return fmt.Errorf("steps[%d]: at: %w", index, err)
		}
	}

	switch st.Action {
	case StepRecalc, StepSweep:
		return nil
	case StepRetarget, StepExec, StepEdit, StepClone:
		if err := needsTarget(); err != nil {
			return err
		}
		if st.Action == StepClone && st.CloneID == "" {
			return fmt.Errorf("steps[%d]: clone needs clone_id", index)
		}
		if st.Action == StepEdit && st.Principal != "" && st.Principal != "user" && st.Principal != "service" {
			return fmt.Errorf("steps[%d]: principal must be user or service", index)
		}
		return nil
	case StepSetTime:
		if st.At == "" {
			return fmt.Errorf("steps[%d]: set_time needs at", index)
		}
		return needsTarget()
	case StepSetState:
		if st.Observation == "" {
			return fmt.Errorf("steps[%d]: set_state needs observation", index)
		}
		if !ir.ValidWorkflowStates[st.State] {
			return fmt.Errorf("steps[%d]: invalid state %q", index, st.State)
		}
		return nil
	case StepDelete:
		if st.Observation == "" {
			return fmt.Errorf("steps[%d]: delete needs observation", index)
		}
		return nil
	case StepPut:
		if st.Science == nil || st.Science.ID == "" {
			return fmt.Errorf("steps[%d]: put needs science with an id", index)
		}
		return nil
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Role != "" && !a.Role.Valid() {
		return fmt.Errorf("assertions[%d]: unknown role %q", index, a.Role)
	}

	switch a.Type {
	case AssertCalibrationCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for calibration_count", index)
		}
	case AssertCalibration:
		if a.Role == "" {
			return fmt.Errorf("assertions[%d]: role is required for calibration", index)
		}
	case AssertGroup:
		if a.Exists == nil {
			return fmt.Errorf("assertions[%d]: exists is required for group", index)
		}
	case AssertEditEvents:
		if a.Kinds == nil {
			return fmt.Errorf("assertions[%d]: kinds is required for edit_events", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
