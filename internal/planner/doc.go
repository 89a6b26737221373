// Package planner derives the desired calibration set of a program.
//
// Extraction groups eligible science observations into equivalence classes
// per calibration role and configuration key. Planning turns each class into
// one Descriptor carrying the role's aggregated parameters.
//
// Role-specific behavior lives in one closed table (Policies): how the key is
// built, how parameters aggregate, and which target selection strategy
// applies. There is no per-role type hierarchy.
//
// Everything here is pure. Nothing touches the store.
package planner
