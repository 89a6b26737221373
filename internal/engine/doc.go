// Package engine implements the calibration reconciliation engine.
//
// The engine derives the calibration observations a program's active
// science needs and makes persisted state match.
//
// ARCHITECTURE:
//
// One reconciliation is one transaction:
// 1. Read the program version, science observations and calibrations
// 2. planner.Desired extracts classes and plans descriptors
// 3. reconcile.Diff partitions current calibrations against descriptors
// 4. Apply deletes, then parameter updates, then creates with fresh targets
// 5. Bump the program's calibration version (optimistic check)
// 6. Publish Created/Updated/HardDelete events to the transactional outbox
//
// Collaborators are consumed through small interfaces (ObservationStore,
// ExecutionStore, GroupManager, TargetStore, VersionStore and
// events.Publisher). TxDeps binds all of them to a store.Tx; RecalculateIn
// accepts any bundle.
//
// CRITICAL PATTERNS:
//
// Serialization:
// Recalculate and RecalculateSingleTarget take a per-program lock, so two
// reconciliations of one program never interleave. Different programs
// proceed concurrently; Sweep bounds how many.
//
// Determinism:
// Descriptors are ordered by (role, key hash), current calibrations by id,
// and target ties break on catalog order. With a deterministic IDGenerator
// the same inputs produce byte-identical state.
//
// Execution retention:
// A calibration with execution events is never deleted. Orphaned executed
// calibrations are reported as Retained and keep their target.
package engine
