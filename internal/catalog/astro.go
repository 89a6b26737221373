package catalog

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/angle"
	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/unit"
)

// Longitudes here are degrees east of Greenwich. meeus measures them
// positive west, so they are negated at the boundary.

// JulianDate returns the Julian date of t.
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// SiderealTime returns the Greenwich mean sidereal time at t.
func SiderealTime(t time.Time) unit.Time {
	return sidereal.Mean(JulianDate(t))
}

// GreenwichSiderealTime returns the Greenwich mean sidereal time in degrees
// [0, 360).
func GreenwichSiderealTime(t time.Time) float64 {
	return normalizeDegrees(SiderealTime(t).Rad() * 180 / math.Pi)
}

// LocalSiderealTime returns local mean sidereal time in degrees for an east
// longitude in degrees.
func LocalSiderealTime(t time.Time, longitude float64) float64 {
	return normalizeDegrees(GreenwichSiderealTime(t) + longitude)
}

// Altitude returns the altitude in degrees of (ra, dec) seen from
// (latitude, longitude) when the Greenwich sidereal time is st.
func Altitude(latitude, longitude, ra, dec float64, st unit.Time) float64 {
	_, h := coord.EqToHz(
		unit.RAFromDeg(ra),
		unit.AngleFromDeg(dec),
		unit.AngleFromDeg(latitude),
		unit.AngleFromDeg(-longitude),
		st,
	)
	return h.Deg()
}

// Separation returns the angular distance in degrees between two positions.
func Separation(ra1, dec1, ra2, dec2 float64) float64 {
	return angle.Sep(
		unit.AngleFromDeg(ra1), unit.AngleFromDeg(dec1),
		unit.AngleFromDeg(ra2), unit.AngleFromDeg(dec2),
	).Deg()
}

// Zenith returns the ICRS-equivalent position of the local zenith at
// (latitude, longitude, t): RA is the local sidereal time and Dec the
// latitude. Precession is ignored.
func Zenith(latitude, longitude float64, t time.Time) (ra, dec float64) {
	return LocalSiderealTime(t, longitude), latitude
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func microDegrees(d float64) int64 {
	return int64(math.Round(d * 1e6))
}
