// Package selector picks a calibration target for a desired calibration.
//
// Two strategies exist. Catalog selection ranks a role's catalog at (site,
// instant) and takes the best entry no other calibration of the program
// already uses. Ephemeris selection computes a position from (site, instant)
// alone. Both are pure functions of their inputs.
package selector

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/obscal/internal/catalog"
	"github.com/roach88/obscal/internal/ir"
)

// ErrNoCatalogTarget is returned when no catalog entry satisfies a request.
var ErrNoCatalogTarget = errors.New("no catalog target satisfies constraints")

// Catalogs is the per-role catalog collaborator: ranked candidates for a
// role at a site and instant, best first.
type Catalogs interface {
	Candidates(role ir.CalibrationRole, site ir.Site, at time.Time) []catalog.Candidate
}

// Request describes one target selection.
type Request struct {
	Role ir.CalibrationRole
	Site ir.Site
	At   time.Time
	// Exclude holds catalog references already assigned to other
	// calibrations of the same program.
	Exclude map[string]bool
}

// Selection is the chosen target.
type Selection struct {
	Name       string
	Position   ir.Coordinates
	Source     ir.TargetSource
	CatalogRef string
}

// Func selects a target for a request.
type Func func(cats Catalogs, req Request) (Selection, error)

// FromCatalog picks the lowest-cost candidate not already excluded.
func FromCatalog(cats Catalogs, req Request) (Selection, error) {
	for _, cand := range cats.Candidates(req.Role, req.Site, req.At) {
		if req.Exclude[cand.Entry.ID] {
			continue
		}
		return Selection{
			Name:       cand.Entry.Name,
			Position:   cand.Entry.Position(),
			Source:     ir.SourceCatalog,
			CatalogRef: cand.Entry.ID,
		}, nil
	}
	return Selection{}, fmt.Errorf("%w: role=%s site=%s at=%s",
		ErrNoCatalogTarget, req.Role, req.Site.Code, req.At.UTC().Format(time.RFC3339))
}

// FromEphemeris places the target at the local zenith at (site, instant).
// Ephemeris targets are never shared: each calibration gets its own target
// row, so Exclude does not apply.
func FromEphemeris(_ Catalogs, req Request) (Selection, error) {
	ra, dec := catalog.Zenith(req.Site.Latitude, req.Site.Longitude, req.At)
	return Selection{
		Name:     fmt.Sprintf("Twilight %s", req.Site.Code),
		Position: ir.CoordinatesFromDegrees(ra, dec),
		Source:   ir.SourceEphemeris,
	}, nil
}
