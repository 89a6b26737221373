package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/obscal/internal/ir"
)

// InsertTarget writes a new target row.
func (c conn) InsertTarget(ctx context.Context, t ir.Target) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO targets (id, program_id, name, ra, dec, source, catalog_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ProgramID, t.Name, t.Position.RA, t.Position.Dec, string(t.Source), nullString(t.CatalogRef))
	if err != nil {
		return fmt.Errorf("insert target %s: %w", t.ID, err)
	}
	return nil
}

// Target returns one target by id.
func (c conn) Target(ctx context.Context, id ir.TargetID) (ir.Target, error) {
	var t ir.Target
	var source string
	var ref sql.NullString
	err := c.q.QueryRowContext(ctx, `
		SELECT id, program_id, name, ra, dec, source, catalog_ref
		FROM targets WHERE id = ?
	`, id).Scan(&t.ID, &t.ProgramID, &t.Name, &t.Position.RA, &t.Position.Dec, &source, &ref)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Target{}, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Target{}, fmt.Errorf("target %s: %w", id, err)
	}
	t.Source = ir.TargetSource(source)
	t.CatalogRef = ref.String
	return t, nil
}

// Targets returns a program's targets ordered by id.
func (c conn) Targets(ctx context.Context, programID ir.ProgramID) ([]ir.Target, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, program_id, name, ra, dec, source, catalog_ref
		FROM targets
		WHERE program_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("targets of %s: %w", programID, err)
	}
	defer rows.Close()

	targets := []ir.Target{}
	for rows.Next() {
		var t ir.Target
		var source string
		var ref sql.NullString
		if err := rows.Scan(&t.ID, &t.ProgramID, &t.Name, &t.Position.RA, &t.Position.Dec, &source, &ref); err != nil {
			return nil, fmt.Errorf("targets of %s: scan: %w", programID, err)
		}
		t.Source = ir.TargetSource(source)
		t.CatalogRef = ref.String
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("targets of %s: %w", programID, err)
	}
	return targets, nil
}

// DeleteTarget removes a target row. Deleting a target still referenced by
// an observation fails on the foreign key.
func (c conn) DeleteTarget(ctx context.Context, id ir.TargetID) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete target %s: %w", id, err)
	}
	return nil
}
