// Package manifest reads program manifests: YAML documents describing a
// program and its science observations. Manifests feed the import command
// and scenario setup.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/obscal/internal/ir"
)

// Program is a manifest's program section.
type Program struct {
	ID           string        `yaml:"id"`
	Title        string        `yaml:"title,omitempty"`
	Observations []Observation `yaml:"observations"`
}

// Observation is one science observation in a manifest.
//
// ObservationTime is RFC 3339; empty means unscheduled.
type Observation struct {
	ID                  string               `yaml:"id"`
	Title               string               `yaml:"title,omitempty"`
	State               ir.WorkflowState     `yaml:"state"`
	Config              *ir.InstrumentConfig `yaml:"config,omitempty"`
	ReferenceWavelength ir.Wavelength        `yaml:"reference_wavelength,omitempty"`
	ObservationTime     string               `yaml:"observation_time,omitempty"`
}

// Writer persists a manifest. *store.Tx and *store.Store satisfy it.
type Writer interface {
	CreateProgram(ctx context.Context, id ir.ProgramID, title string) error
	PutScienceObservation(ctx context.Context, obs ir.ScienceObservation) error
}

// LoadFile reads and validates a manifest file.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	p, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Decode parses a manifest, rejecting unknown fields.
func Decode(r io.Reader) (*Program, error) {
	var p Program
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse manifest: empty document")
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &p, nil
}

// Validate checks required fields. Incomplete instrument configurations
// are allowed; the engine treats them as ineligible.
func (p *Program) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	seen := make(map[string]bool, len(p.Observations))
	for i, o := range p.Observations {
		if o.ID == "" {
			return fmt.Errorf("observations[%d]: id is required", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("observations[%d]: duplicate id %q", i, o.ID)
		}
		seen[o.ID] = true
		if !ir.ValidWorkflowStates[o.State] {
			return fmt.Errorf("observations[%d]: invalid state %q", i, o.State)
		}
		if o.Config != nil && o.Config.Instrument != "" && !o.Config.Instrument.Valid() {
			return fmt.Errorf("observations[%d]: unknown instrument %q", i, o.Config.Instrument)
		}
		if _, err := o.observationTime(); err != nil {
			return fmt.Errorf("observations[%d]: %w", i, err)
		}
	}
	return nil
}

// ScienceObservations converts the manifest's observations, in file order.
func (p *Program) ScienceObservations() ([]ir.ScienceObservation, error) {
	out := make([]ir.ScienceObservation, 0, len(p.Observations))
	for _, o := range p.Observations {
		t, err := o.observationTime()
		if err != nil {
			return nil, fmt.Errorf("observation %s: %w", o.ID, err)
		}
		title := o.Title
		if title == "" {
			title = o.ID
		}
		out = append(out, ir.ScienceObservation{
			ID:                  ir.ObservationID(o.ID),
			ProgramID:           ir.ProgramID(p.ID),
			Title:               title,
			State:               o.State,
			Config:              o.Config,
			ObservationTime:     t,
			ReferenceWavelength: o.ReferenceWavelength,
		})
	}
	return out, nil
}

// Apply creates the program if needed and upserts its observations.
// It returns the number of observations written.
func (p *Program) Apply(ctx context.Context, w Writer) (int, error) {
	obs, err := p.ScienceObservations()
	if err != nil {
		return 0, err
	}
	if err := w.CreateProgram(ctx, ir.ProgramID(p.ID), p.Title); err != nil {
		return 0, fmt.Errorf("apply manifest: %w", err)
	}
	for _, o := range obs {
		if err := w.PutScienceObservation(ctx, o); err != nil {
			return 0, fmt.Errorf("apply manifest: %w", err)
		}
	}
	return len(obs), nil
}

func (o Observation) observationTime() (*time.Time, error) {
	if o.ObservationTime == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, o.ObservationTime)
	if err != nil {
		return nil, fmt.Errorf("observation_time: %w", err)
	}
	t = t.UTC()
	return &t, nil
}
