package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/obscal/internal/ir"
)

// PutScienceObservation inserts or replaces a science observation.
// Replacing never turns a calibration row into a science row: the upsert
// is skipped when id belongs to a calibration.
func (c conn) PutScienceObservation(ctx context.Context, obs ir.ScienceObservation) error {
	cfg, err := marshalConfig(obs.Config)
	if err != nil {
		return fmt.Errorf("put observation %s: %w", obs.ID, err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO observations
		(id, program_id, title, state, target_id, config, reference_wavelength, observation_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			state = excluded.state,
			target_id = excluded.target_id,
			config = excluded.config,
			reference_wavelength = excluded.reference_wavelength,
			observation_time = excluded.observation_time
		WHERE observations.calibration_role IS NULL
	`,
		obs.ID,
		obs.ProgramID,
		obs.Title,
		string(obs.State),
		nullString(string(obs.TargetID)),
		cfg,
		int64(obs.ReferenceWavelength),
		formatNullTime(obs.ObservationTime),
	)
	if err != nil {
		return fmt.Errorf("put observation %s: %w", obs.ID, err)
	}
	return nil
}

const scienceColumns = `id, program_id, title, state, target_id, config, reference_wavelength, observation_time`

func scanScience(scan func(dest ...any) error) (ir.ScienceObservation, error) {
	var obs ir.ScienceObservation
	var state string
	var target, cfg, obsTime sql.NullString
	var refWave int64
	if err := scan(&obs.ID, &obs.ProgramID, &obs.Title, &state, &target, &cfg, &refWave, &obsTime); err != nil {
		return ir.ScienceObservation{}, err
	}
	obs.State = ir.WorkflowState(state)
	obs.TargetID = ir.TargetID(target.String)
	obs.ReferenceWavelength = ir.Wavelength(refWave)

	var err error
	if obs.Config, err = unmarshalConfig(cfg); err != nil {
		return ir.ScienceObservation{}, err
	}
	if obs.ObservationTime, err = parseNullTime(obsTime); err != nil {
		return ir.ScienceObservation{}, err
	}
	return obs, nil
}

// ScienceObservations returns a program's science observations ordered by
// id. When states are given only observations in one of them are returned.
func (c conn) ScienceObservations(ctx context.Context, programID ir.ProgramID, states ...ir.WorkflowState) ([]ir.ScienceObservation, error) {
	query := `SELECT ` + scienceColumns + `
		FROM observations
		WHERE program_id = ? AND calibration_role IS NULL`
	args := []any{programID}
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, s := range states {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND state IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY id COLLATE BINARY ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("science observations of %s: %w", programID, err)
	}
	defer rows.Close()

	out := []ir.ScienceObservation{}
	for rows.Next() {
		obs, err := scanScience(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("science observations of %s: scan: %w", programID, err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("science observations of %s: %w", programID, err)
	}
	return out, nil
}

// ScienceObservation returns one science observation by id.
func (c conn) ScienceObservation(ctx context.Context, id ir.ObservationID) (ir.ScienceObservation, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+scienceColumns+`
		FROM observations
		WHERE id = ? AND calibration_role IS NULL
	`, id)
	obs, err := scanScience(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ScienceObservation{}, fmt.Errorf("observation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.ScienceObservation{}, fmt.Errorf("observation %s: %w", id, err)
	}
	return obs, nil
}

// SetWorkflowState moves a science observation to state. Calibrations have
// no user-visible workflow and are left untouched. Returns rows affected.
func (c conn) SetWorkflowState(ctx context.Context, id ir.ObservationID, state ir.WorkflowState) (int64, error) {
	if !ir.ValidWorkflowStates[state] {
		return 0, fmt.Errorf("set workflow state %s: unknown state %q", id, state)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE observations SET state = ?
		WHERE id = ? AND calibration_role IS NULL
	`, string(state), id)
	if err != nil {
		return 0, fmt.Errorf("set workflow state %s: %w", id, err)
	}
	return affected(res)
}

// DeleteScienceObservation removes a science observation. Calibrations are
// only removed by the reconciler. Returns rows affected.
func (c conn) DeleteScienceObservation(ctx context.Context, id ir.ObservationID) (int64, error) {
	res, err := c.q.ExecContext(ctx, `
		DELETE FROM observations
		WHERE id = ? AND calibration_role IS NULL
	`, id)
	if err != nil {
		return 0, fmt.Errorf("delete observation %s: %w", id, err)
	}
	return affected(res)
}

// Principal identifies who is editing an observation.
type Principal int

const (
	// PrincipalUser is an ordinary program user.
	PrincipalUser Principal = iota
	// PrincipalService is the reconciliation service itself.
	PrincipalService
)

func (p Principal) String() string {
	if p == PrincipalService {
		return "service"
	}
	return "user"
}

// calibrationGuard is appended to user-facing edits. Calibration rows only
// match when the caller is the service principal, so an unprivileged edit of
// a calibration affects zero rows rather than failing.
const calibrationGuard = ` AND (calibration_role IS NULL OR ? = 1)`

func (p Principal) privileged() int {
	if p == PrincipalService {
		return 1
	}
	return 0
}

// UpdateObservationConstraints sets an observation's constraint set.
// Returns rows affected; zero for a calibration edited by a user.
func (c conn) UpdateObservationConstraints(ctx context.Context, p Principal, id ir.ObservationID, constraints string) (int64, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE observations SET constraint_set = ?
		WHERE id = ?`+calibrationGuard,
		constraints, id, p.privileged())
	if err != nil {
		return 0, fmt.Errorf("update constraints %s: %w", id, err)
	}
	return affected(res)
}

// UpdateInstrumentConfig changes an observation's observing mode.
// Returns rows affected; zero for a calibration edited by a user.
func (c conn) UpdateInstrumentConfig(ctx context.Context, p Principal, id ir.ObservationID, cfg *ir.InstrumentConfig) (int64, error) {
	data, err := marshalConfig(cfg)
	if err != nil {
		return 0, fmt.Errorf("update config %s: %w", id, err)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE observations SET config = ?
		WHERE id = ?`+calibrationGuard,
		data, id, p.privileged())
	if err != nil {
		return 0, fmt.Errorf("update config %s: %w", id, err)
	}
	return affected(res)
}

// CloneObservation copies a science observation to newID. Calibrations are
// never cloned: a copy would collide with the per-key uniqueness index, so
// cloning one affects zero rows for every principal.
func (c conn) CloneObservation(ctx context.Context, id, newID ir.ObservationID) (int64, error) {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO observations
		(id, program_id, title, state, target_id, config, reference_wavelength, observation_time, constraint_set)
		SELECT ?, program_id, title, state, target_id, config, reference_wavelength, observation_time, constraint_set
		FROM observations
		WHERE id = ? AND calibration_role IS NULL
	`, newID, id)
	if err != nil {
		return 0, fmt.Errorf("clone observation %s: %w", id, err)
	}
	return affected(res)
}

// SetObservationTime sets or clears an observation's explicit observation
// time. Permitted on calibrations for every principal.
func (c conn) SetObservationTime(ctx context.Context, id ir.ObservationID, t *time.Time) (int64, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE observations SET observation_time = ? WHERE id = ?
	`, formatNullTime(t), id)
	if err != nil {
		return 0, fmt.Errorf("set observation time %s: %w", id, err)
	}
	return affected(res)
}

// ConstraintSet returns an observation's constraint set.
func (c conn) ConstraintSet(ctx context.Context, id ir.ObservationID) (string, error) {
	var cs string
	err := c.q.QueryRowContext(ctx, `SELECT constraint_set FROM observations WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("observation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("observation %s: %w", id, err)
	}
	return cs, nil
}
