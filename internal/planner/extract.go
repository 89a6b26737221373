package planner

import (
	"sort"

	"github.com/roach88/obscal/internal/ir"
)

// WorkflowEvaluator decides whether a science observation contributes
// calibration demand.
type WorkflowEvaluator interface {
	IsEligible(obs ir.ScienceObservation) bool
}

// DefaultWorkflow accepts observations in an active workflow state with a
// complete instrument configuration.
type DefaultWorkflow struct{}

// IsEligible implements WorkflowEvaluator.
func (DefaultWorkflow) IsEligible(obs ir.ScienceObservation) bool {
	return obs.State.Active() && obs.Config.Complete()
}

// Class is an equivalence class: the science observations sharing a
// configuration key under one role.
type Class struct {
	Role         ir.CalibrationRole
	Key          ir.ConfigurationKey
	KeyHash      string
	Site         ir.Site
	Contributors []ir.ScienceObservation
}

// Extraction is the extractor's output.
type Extraction struct {
	// Classes maps role to key hash to class.
	Classes map[ir.CalibrationRole]map[string]*Class
	// Excluded counts observations that did not contribute, by reason.
	Excluded map[string]int
}

// Exclusion reasons.
const (
	ExcludedInactive      = "inactive"
	ExcludedMissingConfig = "missing_configuration"
)

// Extract groups observations into classes per role. Ineligible
// observations and those without a resolvable configuration are counted in
// Excluded and otherwise ignored.
func Extract(observations []ir.ScienceObservation, workflow WorkflowEvaluator) Extraction {
	ex := Extraction{
		Classes:  make(map[ir.CalibrationRole]map[string]*Class, len(ir.AllRoles)),
		Excluded: map[string]int{},
	}

	for _, obs := range observations {
		if !obs.Config.Complete() {
			ex.Excluded[ExcludedMissingConfig]++
			continue
		}
		if !workflow.IsEligible(obs) {
			ex.Excluded[ExcludedInactive]++
			continue
		}
		site, ok := ir.SiteFor(obs.Config.Instrument)
		if !ok {
			ex.Excluded[ExcludedMissingConfig]++
			continue
		}

		for _, role := range ir.AllRoles {
			policy := PolicyFor(role)
			key := ir.NewConfigurationKey(role, *obs.Config, policy.IncludeROI)
			hash := key.Hash()

			byKey, ok := ex.Classes[role]
			if !ok {
				byKey = make(map[string]*Class)
				ex.Classes[role] = byKey
			}
			class, ok := byKey[hash]
			if !ok {
				class = &Class{Role: role, Key: key, KeyHash: hash, Site: site}
				byKey[hash] = class
			}
			class.Contributors = append(class.Contributors, obs)
		}
	}

	for _, byKey := range ex.Classes {
		for _, class := range byKey {
			sort.Slice(class.Contributors, func(i, j int) bool {
				return class.Contributors[i].ID < class.Contributors[j].ID
			})
		}
	}
	return ex
}
