// Package ir holds the domain types shared by every obscal package:
// programs, science and calibration observations, configuration keys,
// groups and targets.
//
// ir imports no other internal package. Configuration keys carry no
// floats: wavelengths are int64 picometers and sky positions int64
// micro-arcseconds, so a key's canonical JSON and hash are exact.
package ir
