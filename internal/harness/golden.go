package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/obscal/internal/ir"
)

// Snapshot renders a scenario result as canonical JSON: step outcomes,
// final calibrations and outbox events. Identical runs produce identical
// bytes.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, s := range result.Steps {
		steps[i] = map[string]any{
			"index":   s.Index,
			"action":  s.Action,
			"outcome": s.Outcome,
		}
	}

	cals := make([]any, len(result.Calibrations))
	for i, c := range result.Calibrations {
		cals[i] = map[string]any{
			"id":                   string(c.ID),
			"role":                 string(c.Role),
			"title":                c.Title,
			"group":                string(c.Group),
			"target":               c.Target,
			"reference_wavelength": c.ReferenceWavelength,
			"executed":             c.Executed,
		}
	}

	evs := make([]any, len(result.Events))
	for i, ev := range result.Events {
		evs[i] = map[string]any{
			"seq":         ev.Seq,
			"kind":        ev.Kind,
			"observation": string(ev.Observation),
		}
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario":     scenario.Name,
		"steps":        steps,
		"calibrations": cals,
		"events":       evs,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	data, err := Snapshot(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
