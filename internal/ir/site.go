package ir

import "math"

// Instrument identifies a long-slit spectrograph.
type Instrument string

const (
	GmosNorth Instrument = "GmosNorth"
	GmosSouth Instrument = "GmosSouth"
)

// Valid reports whether i is a known instrument.
func (i Instrument) Valid() bool {
	return i == GmosNorth || i == GmosSouth
}

// Site is an observatory location.
type Site struct {
	Code string
	Name string
	// Geodetic latitude and east longitude in degrees.
	Latitude  float64
	Longitude float64
}

var (
	SiteGN = Site{Code: "GN", Name: "Maunakea", Latitude: 19.8238, Longitude: -155.469}
	SiteGS = Site{Code: "GS", Name: "Cerro Pachon", Latitude: -30.2407, Longitude: -70.7367}
)

// SiteFor returns the site hosting an instrument.
func SiteFor(i Instrument) (Site, bool) {
	switch i {
	case GmosNorth:
		return SiteGN, true
	case GmosSouth:
		return SiteGS, true
	}
	return Site{}, false
}

// MicroArcsecondsPerDegree converts between degrees and the integer unit
// used for stored sky positions.
const MicroArcsecondsPerDegree = 3600 * 1_000_000

// Coordinates is an ICRS position in integer micro-arcseconds.
type Coordinates struct {
	RA  int64 `json:"ra"`
	Dec int64 `json:"dec"`
}

// CoordinatesFromDegrees rounds a degree position to micro-arcseconds,
// normalizing RA into [0, 360).
func CoordinatesFromDegrees(ra, dec float64) Coordinates {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return Coordinates{
		RA:  int64(math.Round(ra * MicroArcsecondsPerDegree)),
		Dec: int64(math.Round(dec * MicroArcsecondsPerDegree)),
	}
}

// RADegrees returns right ascension in degrees.
func (c Coordinates) RADegrees() float64 {
	return float64(c.RA) / MicroArcsecondsPerDegree
}

// DecDegrees returns declination in degrees.
func (c Coordinates) DecDegrees() float64 {
	return float64(c.Dec) / MicroArcsecondsPerDegree
}
