// Package store provides SQLite-backed storage for programs, observations,
// calibration targets and the calibration edit outbox.
//
// Tables:
//   - programs: one row per program, with the calibration version used for
//     optimistic concurrency
//   - observation_groups: groups, at most one system-flagged per program
//   - targets: sky targets, each catalog entry at most once per program
//   - observations: science rows (calibration_role NULL) and calibration
//     rows (role, key hash, aggregated params)
//   - execution_events: execution history; rows pin their observation
//   - edit_events: transactional outbox of calibration edit notifications
//
// # Invariants Enforced by the Schema
//
//   - UNIQUE(program_id, calibration_role, config_key_hash) over calibrations
//   - UNIQUE(target_id) over calibrations
//   - execution_events references observations without cascade
//
// # Deterministic Query Results
//
// Every list query orders by id (COLLATE BINARY) or by seq, so identical
// state reads back identically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Both Store and Tx expose the same query methods; Tx scopes them to one
// transaction opened by Store.WithTx.
package store
