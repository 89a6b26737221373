package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/obscal/internal/ir"
)

// CalibrationGroup returns the program's system-flagged group.
// Returns ErrNotFound when the program has none.
func (c conn) CalibrationGroup(ctx context.Context, programID ir.ProgramID) (ir.CalibrationGroup, error) {
	var g ir.CalibrationGroup
	var system int
	err := c.q.QueryRowContext(ctx, `
		SELECT id, program_id, name, system
		FROM observation_groups
		WHERE program_id = ? AND system = 1
	`, programID).Scan(&g.ID, &g.ProgramID, &g.Name, &system)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CalibrationGroup{}, fmt.Errorf("calibration group of %s: %w", programID, ErrNotFound)
	}
	if err != nil {
		return ir.CalibrationGroup{}, fmt.Errorf("calibration group of %s: %w", programID, err)
	}
	g.System = system == 1
	return g, nil
}

// EnsureCalibrationGroup returns the program's system group, creating it
// with the reserved name when absent. newID is only called on creation.
// Calling it again returns the existing group; groups are never deleted here.
func (c conn) EnsureCalibrationGroup(ctx context.Context, programID ir.ProgramID, newID func() ir.GroupID) (ir.GroupID, error) {
	g, err := c.CalibrationGroup(ctx, programID)
	if err == nil {
		return g.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id := newID()
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO observation_groups (id, program_id, name, system)
		VALUES (?, ?, ?, 1)
	`, id, programID, ir.CalibrationGroupName)
	if err != nil {
		return "", fmt.Errorf("create calibration group of %s: %w", programID, err)
	}
	return id, nil
}

// CreateGroup inserts an ordinary, non-system group.
func (c conn) CreateGroup(ctx context.Context, g ir.CalibrationGroup) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO observation_groups (id, program_id, name, system)
		VALUES (?, ?, ?, 0)
	`, g.ID, g.ProgramID, g.Name)
	if err != nil {
		return fmt.Errorf("create group %s: %w", g.ID, err)
	}
	return nil
}
