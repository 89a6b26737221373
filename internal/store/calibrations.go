package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/obscal/internal/ir"
)

// calibrationState is the workflow state calibration rows are stored with.
// Calibrations are scheduled alongside their science and never edited by
// users, so the state only has to be a valid one.
const calibrationState = ir.StateReady

const calibrationColumns = `
	o.id, o.program_id, o.title, o.calibration_role, o.group_id, o.target_id,
	o.config_key, o.config_key_hash, o.reference_wavelength,
	o.reference_instant, o.observation_time,
	EXISTS (SELECT 1 FROM execution_events e WHERE e.observation_id = o.id)`

func scanCalibration(scan func(dest ...any) error) (ir.CalibrationObservation, error) {
	var c ir.CalibrationObservation
	var role string
	var group, target, key, keyHash, refInstant, obsTime sql.NullString
	var refWave int64
	var executed int
	if err := scan(&c.ID, &c.ProgramID, &c.Title, &role, &group, &target,
		&key, &keyHash, &refWave, &refInstant, &obsTime, &executed); err != nil {
		return ir.CalibrationObservation{}, err
	}
	c.Role = ir.CalibrationRole(role)
	c.GroupID = ir.GroupID(group.String)
	c.TargetID = ir.TargetID(target.String)
	c.KeyHash = keyHash.String
	c.Params.ReferenceWavelength = ir.Wavelength(refWave)
	c.HasExecutionEvents = executed == 1

	var err error
	if c.Key, err = unmarshalKey(key); err != nil {
		return ir.CalibrationObservation{}, err
	}
	if refInstant.Valid {
		if c.ReferenceInstant, err = parseTime(refInstant.String); err != nil {
			return ir.CalibrationObservation{}, err
		}
	}
	if c.ObservationTime, err = parseNullTime(obsTime); err != nil {
		return ir.CalibrationObservation{}, err
	}
	return c, nil
}

// Calibrations returns a program's calibration observations ordered by id,
// with HasExecutionEvents populated.
func (c conn) Calibrations(ctx context.Context, programID ir.ProgramID) ([]ir.CalibrationObservation, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+calibrationColumns+`
		FROM observations o
		WHERE o.program_id = ? AND o.calibration_role IS NOT NULL
		ORDER BY o.id COLLATE BINARY ASC
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("calibrations of %s: %w", programID, err)
	}
	defer rows.Close()

	out := []ir.CalibrationObservation{}
	for rows.Next() {
		cal, err := scanCalibration(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("calibrations of %s: scan: %w", programID, err)
		}
		out = append(out, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calibrations of %s: %w", programID, err)
	}
	return out, nil
}

// Calibration returns one calibration of a program.
func (c conn) Calibration(ctx context.Context, programID ir.ProgramID, id ir.ObservationID) (ir.CalibrationObservation, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+calibrationColumns+`
		FROM observations o
		WHERE o.program_id = ? AND o.id = ? AND o.calibration_role IS NOT NULL
	`, programID, id)
	cal, err := scanCalibration(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CalibrationObservation{}, fmt.Errorf("calibration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.CalibrationObservation{}, fmt.Errorf("calibration %s: %w", id, err)
	}
	return cal, nil
}

// InsertCalibration writes a new calibration row. The unique indexes reject
// a second calibration for the same (program, role, key) and a target
// already assigned to another calibration.
func (c conn) InsertCalibration(ctx context.Context, cal ir.CalibrationObservation) error {
	key, err := marshalKey(cal.Key)
	if err != nil {
		return fmt.Errorf("insert calibration %s: %w", cal.ID, err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO observations
		(id, program_id, title, state, calibration_role, group_id, target_id,
		 config_key, config_key_hash, reference_wavelength, reference_instant, observation_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cal.ID,
		cal.ProgramID,
		cal.Title,
		string(calibrationState),
		string(cal.Role),
		nullString(string(cal.GroupID)),
		nullString(string(cal.TargetID)),
		key,
		cal.KeyHash,
		int64(cal.Params.ReferenceWavelength),
		formatTime(cal.ReferenceInstant),
		formatNullTime(cal.ObservationTime),
	)
	if err != nil {
		return fmt.Errorf("insert calibration %s: %w", cal.ID, err)
	}
	return nil
}

// UpdateCalibrationParams rewrites a calibration's aggregated parameters.
func (c conn) UpdateCalibrationParams(ctx context.Context, id ir.ObservationID, params ir.CalibrationParams) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE observations SET reference_wavelength = ?
		WHERE id = ? AND calibration_role IS NOT NULL
	`, int64(params.ReferenceWavelength), id)
	if err != nil {
		return fmt.Errorf("update calibration params %s: %w", id, err)
	}
	return requireOne(res, "update calibration params", id)
}

// UpdateCalibrationTarget points a calibration at a new target and title.
func (c conn) UpdateCalibrationTarget(ctx context.Context, id ir.ObservationID, target ir.TargetID, title string) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE observations SET target_id = ?, title = ?
		WHERE id = ? AND calibration_role IS NOT NULL
	`, target, title, id)
	if err != nil {
		return fmt.Errorf("update calibration target %s: %w", id, err)
	}
	return requireOne(res, "update calibration target", id)
}

// DeleteCalibration removes a calibration row. A calibration with execution
// events cannot be deleted; the execution_events foreign key rejects it.
func (c conn) DeleteCalibration(ctx context.Context, id ir.ObservationID) error {
	res, err := c.q.ExecContext(ctx, `
		DELETE FROM observations
		WHERE id = ? AND calibration_role IS NOT NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete calibration %s: %w", id, err)
	}
	return requireOne(res, "delete calibration", id)
}

func requireOne(res sql.Result, op string, id ir.ObservationID) error {
	n, err := affected(res)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
