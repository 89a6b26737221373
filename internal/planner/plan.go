package planner

import (
	"sort"

	"github.com/roach88/obscal/internal/ir"
)

// Descriptor is one desired calibration.
type Descriptor struct {
	Role         ir.CalibrationRole
	Key          ir.ConfigurationKey
	KeyHash      string
	Site         ir.Site
	Params       ir.CalibrationParams
	Contributors []ir.ObservationID
}

// Identity is the (role, key) pair a descriptor and a persisted
// calibration are matched on.
type Identity struct {
	Role    ir.CalibrationRole
	KeyHash string
}

// Identity returns the descriptor's match identity.
func (d Descriptor) Identity() Identity {
	return Identity{Role: d.Role, KeyHash: d.KeyHash}
}

// Plan computes one descriptor per non-empty class, ordered by role (in
// ir.AllRoles order) then key hash.
func Plan(ex Extraction) []Descriptor {
	var out []Descriptor
	for _, role := range ir.AllRoles {
		byKey := ex.Classes[role]
		hashes := make([]string, 0, len(byKey))
		for h, class := range byKey {
			if len(class.Contributors) > 0 {
				hashes = append(hashes, h)
			}
		}
		sort.Strings(hashes)

		policy := PolicyFor(role)
		for _, h := range hashes {
			class := byKey[h]
			ids := make([]ir.ObservationID, len(class.Contributors))
			for i, obs := range class.Contributors {
				ids[i] = obs.ID
			}
			out = append(out, Descriptor{
				Role:         role,
				Key:          class.Key,
				KeyHash:      class.KeyHash,
				Site:         class.Site,
				Params:       policy.Aggregate(class.Contributors),
				Contributors: ids,
			})
		}
	}
	return out
}

// Desired runs extraction and planning in one step.
func Desired(observations []ir.ScienceObservation, workflow WorkflowEvaluator) ([]Descriptor, Extraction) {
	ex := Extract(observations, workflow)
	return Plan(ex), ex
}
