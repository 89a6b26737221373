package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/obscal/internal/ir"
)

// Program is a program row.
type Program struct {
	ID                 ir.ProgramID `json:"id"`
	Title              string       `json:"title"`
	CalibrationVersion int64        `json:"calibration_version"`
}

// CreateProgram inserts a program. Re-creating an existing id is a no-op.
func (c conn) CreateProgram(ctx context.Context, id ir.ProgramID, title string) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO programs (id, title) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, title)
	if err != nil {
		return fmt.Errorf("create program %s: %w", id, err)
	}
	return nil
}

// ListPrograms returns all programs ordered by id.
func (c conn) ListPrograms(ctx context.Context) ([]Program, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, title, calibration_version
		FROM programs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	programs := []Program{}
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.ID, &p.Title, &p.CalibrationVersion); err != nil {
			return nil, fmt.Errorf("list programs: scan: %w", err)
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// ProgramVersion returns the program's calibration version.
func (c conn) ProgramVersion(ctx context.Context, id ir.ProgramID) (int64, error) {
	var version int64
	err := c.q.QueryRowContext(ctx,
		`SELECT calibration_version FROM programs WHERE id = ?`, id,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("program %s: %w", id, ErrProgramNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("program version %s: %w", id, err)
	}
	return version, nil
}

// BumpProgramVersion advances the calibration version from expected to
// expected+1. It fails with ErrConcurrentModification if the stored version
// is no longer expected.
func (c conn) BumpProgramVersion(ctx context.Context, id ir.ProgramID, expected int64) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE programs
		SET calibration_version = calibration_version + 1
		WHERE id = ? AND calibration_version = ?
	`, id, expected)
	if err != nil {
		return fmt.Errorf("bump program version %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return fmt.Errorf("bump program version %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("program %s at version %d: %w", id, expected, ErrConcurrentModification)
	}
	return nil
}
