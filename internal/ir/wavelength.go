package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Wavelength is a wavelength in integer picometers.
// One picometer is the catalog precision for aggregated values.
type Wavelength int64

// PicometersPerNanometer is the nm to pm conversion factor.
const PicometersPerNanometer = 1000

// Nanometers converts a nanometer value to a Wavelength, rounding to the
// nearest picometer.
func Nanometers(nm float64) Wavelength {
	return Wavelength(math.Round(nm * PicometersPerNanometer))
}

// Nanometers returns the wavelength in nanometers.
func (w Wavelength) Nanometers() float64 {
	return float64(w) / PicometersPerNanometer
}

// String renders the wavelength in nanometers, e.g. "510.000nm".
func (w Wavelength) String() string {
	return strconv.FormatFloat(w.Nanometers(), 'f', 3, 64) + "nm"
}

// ParseWavelength accepts "510nm", "510.25 nm" or a bare picometer integer.
func ParseWavelength(s string) (Wavelength, error) {
	s = strings.TrimSpace(s)
	if nm, ok := strings.CutSuffix(s, "nm"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(nm), 64)
		if err != nil {
			return 0, fmt.Errorf("parse wavelength %q: %w", s, err)
		}
		return Nanometers(v), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wavelength %q: %w", s, err)
	}
	return Wavelength(v), nil
}

// UnmarshalYAML accepts either an integer picometer value or a string with
// an "nm" suffix.
func (w *Wavelength) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("wavelength must be a scalar (line %d)", node.Line)
	}
	parsed, err := ParseWavelength(node.Value)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MeanWavelength returns the arithmetic mean of ws rounded half away from
// zero to the nearest picometer. Returns 0 for an empty slice.
func MeanWavelength(ws []Wavelength) Wavelength {
	if len(ws) == 0 {
		return 0
	}
	var sum int64
	for _, w := range ws {
		sum += int64(w)
	}
	n := int64(len(ws))
	q, r := sum/n, sum%n
	if 2*abs64(r) >= n {
		if sum < 0 {
			q--
		} else {
			q++
		}
	}
	return Wavelength(q)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
