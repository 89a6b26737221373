package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() InstrumentConfig {
	return InstrumentConfig{
		Instrument:        GmosNorth,
		Grating:           "B600_G5307",
		FPU:               "LongSlit_1_00",
		XBin:              2,
		YBin:              2,
		AmpGain:           "Low",
		AmpReadMode:       "Slow",
		CentralWavelength: Nanometers(500),
		ROI:               "CentralSpectrum",
	}
}

func TestConfigKeyHashDeterminism(t *testing.T) {
	key := NewConfigurationKey(RoleTwilight, testConfig(), true)

	h1, err := ConfigKeyHash(key)
	require.NoError(t, err)
	h2, err := ConfigKeyHash(key)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "ConfigKeyHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestConfigKeyHashROIPolicy(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.ROI = "FullFrame"

	// ROI ignored: both configs collapse to one key.
	assert.Equal(t,
		NewConfigurationKey(RoleSpectroPhotometric, a, false).Hash(),
		NewConfigurationKey(RoleSpectroPhotometric, b, false).Hash())

	// ROI included: distinct keys.
	assert.NotEqual(t,
		NewConfigurationKey(RoleTwilight, a, true).Hash(),
		NewConfigurationKey(RoleTwilight, b, true).Hash())
}

func TestConfigKeyHashScopedByRole(t *testing.T) {
	cfg := testConfig()
	a := NewConfigurationKey(RoleSpectroPhotometric, cfg, true)
	b := NewConfigurationKey(RoleTwilight, cfg, true)
	assert.NotEqual(t, a.Hash(), b.Hash(), "same attributes under different roles hash differently")
}

func TestConfigKeyHashChangesWithAttributes(t *testing.T) {
	base := testConfig()
	baseHash := NewConfigurationKey(RoleTwilight, base, true).Hash()

	mutations := map[string]func(*InstrumentConfig){
		"grating":    func(c *InstrumentConfig) { c.Grating = "R400_G5305" },
		"filter":     func(c *InstrumentConfig) { c.Filter = "GG455_G0305" },
		"fpu":        func(c *InstrumentConfig) { c.FPU = "LongSlit_0_50" },
		"xbin":       func(c *InstrumentConfig) { c.XBin = 1 },
		"ybin":       func(c *InstrumentConfig) { c.YBin = 4 },
		"gain":       func(c *InstrumentConfig) { c.AmpGain = "High" },
		"read mode":  func(c *InstrumentConfig) { c.AmpReadMode = "Fast" },
		"wavelength": func(c *InstrumentConfig) { c.CentralWavelength = Nanometers(520) },
		"instrument": func(c *InstrumentConfig) { c.Instrument = GmosSouth },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			assert.NotEqual(t, baseHash, NewConfigurationKey(RoleTwilight, cfg, true).Hash())
		})
	}
}
