package ir

// ConfigurationKey is the role-scoped fingerprint of a science observation's
// instrument configuration. Two observations with equal keys under a role
// share one calibration.
//
// ROI is empty for roles whose key policy ignores region of interest.
type ConfigurationKey struct {
	Role              CalibrationRole `json:"role"`
	Instrument        Instrument      `json:"instrument"`
	Grating           string          `json:"grating"`
	Filter            string          `json:"filter,omitempty"`
	FPU               string          `json:"fpu"`
	XBin              int             `json:"x_bin"`
	YBin              int             `json:"y_bin"`
	AmpGain           string          `json:"amp_gain"`
	AmpReadMode       string          `json:"amp_read_mode"`
	CentralWavelength Wavelength      `json:"central_wavelength"`
	ROI               string          `json:"roi,omitempty"`
}

// NewConfigurationKey builds a key from a complete instrument config.
func NewConfigurationKey(role CalibrationRole, cfg InstrumentConfig, includeROI bool) ConfigurationKey {
	key := ConfigurationKey{
		Role:              role,
		Instrument:        cfg.Instrument,
		Grating:           cfg.Grating,
		Filter:            cfg.Filter,
		FPU:               cfg.FPU,
		XBin:              cfg.XBin,
		YBin:              cfg.YBin,
		AmpGain:           cfg.AmpGain,
		AmpReadMode:       cfg.AmpReadMode,
		CentralWavelength: cfg.CentralWavelength,
	}
	if includeROI {
		key.ROI = cfg.ROI
	}
	return key
}

// Hash returns the key's content address.
func (k ConfigurationKey) Hash() string {
	return MustConfigKeyHash(k)
}

// canonicalMap renders the key for canonical JSON. Optional fields are
// omitted when empty so that adding one later does not change old hashes.
func (k ConfigurationKey) canonicalMap() map[string]any {
	m := map[string]any{
		"role":               string(k.Role),
		"instrument":         string(k.Instrument),
		"grating":            k.Grating,
		"fpu":                k.FPU,
		"x_bin":              k.XBin,
		"y_bin":              k.YBin,
		"amp_gain":           k.AmpGain,
		"amp_read_mode":      k.AmpReadMode,
		"central_wavelength": k.CentralWavelength,
	}
	if k.Filter != "" {
		m["filter"] = k.Filter
	}
	if k.ROI != "" {
		m["roi"] = k.ROI
	}
	return m
}
