package ir

import "time"

// Identifiers are opaque strings. Observation, group and target IDs are
// UUIDv7 in production and sequential in tests.
type (
	ProgramID     string
	ObservationID string
	GroupID       string
	TargetID      string
)

// WorkflowState is the lifecycle state of a science observation.
type WorkflowState string

const (
	StateUndefined  WorkflowState = "undefined"
	StateUnapproved WorkflowState = "unapproved"
	StateDefined    WorkflowState = "defined"
	StateReady      WorkflowState = "ready"
	StateOngoing    WorkflowState = "ongoing"
	StateCompleted  WorkflowState = "completed"
	StateInactive   WorkflowState = "inactive"
)

// ValidWorkflowStates lists every known workflow state.
var ValidWorkflowStates = map[WorkflowState]bool{
	StateUndefined:  true,
	StateUnapproved: true,
	StateDefined:    true,
	StateReady:      true,
	StateOngoing:    true,
	StateCompleted:  true,
	StateInactive:   true,
}

// Active reports whether the state can still contribute calibration demand.
func (s WorkflowState) Active() bool {
	switch s {
	case StateDefined, StateReady, StateOngoing:
		return true
	}
	return false
}

// CalibrationRole tags why a calibration observation exists.
// The set is closed; see planner.Policies for per-role behavior.
type CalibrationRole string

const (
	RoleSpectroPhotometric CalibrationRole = "spectrophotometric"
	RoleTwilight           CalibrationRole = "twilight"
)

// AllRoles lists calibration roles in their fixed evaluation order.
var AllRoles = []CalibrationRole{RoleSpectroPhotometric, RoleTwilight}

// Valid reports whether r is a known calibration role.
func (r CalibrationRole) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// InstrumentConfig holds the calibration-relevant instrument attributes of a
// long-slit science observation.
type InstrumentConfig struct {
	Instrument        Instrument `json:"instrument" yaml:"instrument"`
	Grating           string     `json:"grating" yaml:"grating"`
	Filter            string     `json:"filter,omitempty" yaml:"filter,omitempty"`
	FPU               string     `json:"fpu" yaml:"fpu"`
	XBin              int        `json:"x_bin" yaml:"x_bin"`
	YBin              int        `json:"y_bin" yaml:"y_bin"`
	AmpGain           string     `json:"amp_gain" yaml:"amp_gain"`
	AmpReadMode       string     `json:"amp_read_mode" yaml:"amp_read_mode"`
	CentralWavelength Wavelength `json:"central_wavelength" yaml:"central_wavelength"`
	ROI               string     `json:"roi" yaml:"roi"`
}

// Complete reports whether every attribute needed to derive a key is set.
// Filter is optional.
func (c *InstrumentConfig) Complete() bool {
	if c == nil {
		return false
	}
	if !c.Instrument.Valid() {
		return false
	}
	return c.Grating != "" &&
		c.FPU != "" &&
		c.XBin > 0 &&
		c.YBin > 0 &&
		c.AmpGain != "" &&
		c.AmpReadMode != "" &&
		c.CentralWavelength > 0 &&
		c.ROI != ""
}

// ScienceObservation is an observation with a science purpose.
// It never carries a calibration role.
type ScienceObservation struct {
	ID                  ObservationID     `json:"id"`
	ProgramID           ProgramID         `json:"program_id"`
	Title               string            `json:"title"`
	State               WorkflowState     `json:"state"`
	Config              *InstrumentConfig `json:"config,omitempty"`
	TargetID            TargetID          `json:"target_id,omitempty"`
	ObservationTime     *time.Time        `json:"observation_time,omitempty"`
	ReferenceWavelength Wavelength        `json:"reference_wavelength"`
}

// CalibrationParams are the aggregated numeric parameters of a calibration.
type CalibrationParams struct {
	ReferenceWavelength Wavelength `json:"reference_wavelength"`
}

// CalibrationObservation is an observation derived by the reconciliation engine.
//
// HasExecutionEvents is a read-model field populated from the execution-event
// store; it is never persisted on the observation row.
type CalibrationObservation struct {
	ID                 ObservationID     `json:"id"`
	ProgramID          ProgramID         `json:"program_id"`
	Title              string            `json:"title"`
	Role               CalibrationRole   `json:"role"`
	GroupID            GroupID           `json:"group_id"`
	TargetID           TargetID          `json:"target_id"`
	Key                ConfigurationKey  `json:"key"`
	KeyHash            string            `json:"key_hash"`
	Params             CalibrationParams `json:"params"`
	ReferenceInstant   time.Time         `json:"reference_instant"`
	ObservationTime    *time.Time        `json:"observation_time,omitempty"`
	HasExecutionEvents bool              `json:"has_execution_events"`
}

// SelectionInstant returns the instant target selection should use: the
// externally set observation time when present, else the reference instant.
func (c CalibrationObservation) SelectionInstant() time.Time {
	if c.ObservationTime != nil {
		return *c.ObservationTime
	}
	return c.ReferenceInstant
}

// CalibrationGroup is the system-flagged container holding a program's
// calibration observations.
type CalibrationGroup struct {
	ID        GroupID   `json:"id"`
	ProgramID ProgramID `json:"program_id"`
	Name      string    `json:"name"`
	System    bool      `json:"system"`
}

// CalibrationGroupName is the reserved name of the calibration group.
const CalibrationGroupName = "Calibrations"

// TargetSource records how a target position was obtained.
type TargetSource string

const (
	SourceCatalog   TargetSource = "catalog"
	SourceEphemeris TargetSource = "ephemeris"
)

// Target is a program-owned sky target assigned to a calibration.
// CatalogRef is empty for ephemeris targets.
type Target struct {
	ID         TargetID     `json:"id"`
	ProgramID  ProgramID    `json:"program_id"`
	Name       string       `json:"name"`
	Position   Coordinates  `json:"position"`
	Source     TargetSource `json:"source"`
	CatalogRef string       `json:"catalog_ref,omitempty"`
}
