package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/obscal/internal/ir"
)

// ExecutionEvent is one recorded execution of an observation.
type ExecutionEvent struct {
	Seq           int64            `json:"seq"`
	ObservationID ir.ObservationID `json:"observation_id"`
	Kind          string           `json:"kind"`
	RecordedAt    time.Time        `json:"recorded_at"`
}

// RecordExecutionEvent appends an execution event for an observation.
func (c conn) RecordExecutionEvent(ctx context.Context, id ir.ObservationID, kind string, at time.Time) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO execution_events (observation_id, kind, recorded_at)
		VALUES (?, ?, ?)
	`, id, kind, formatTime(at))
	if err != nil {
		return fmt.Errorf("record execution event %s: %w", id, err)
	}
	return nil
}

// HasExecutionEvents reports whether id has at least one execution event.
func (c conn) HasExecutionEvents(ctx context.Context, id ir.ObservationID) (bool, error) {
	var exists int
	err := c.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM execution_events WHERE observation_id = ?)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has execution events %s: %w", id, err)
	}
	return exists == 1, nil
}

// ExecutionEvents returns an observation's events in recording order.
func (c conn) ExecutionEvents(ctx context.Context, id ir.ObservationID) ([]ExecutionEvent, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT seq, observation_id, kind, recorded_at
		FROM execution_events
		WHERE observation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("execution events %s: %w", id, err)
	}
	defer rows.Close()

	out := []ExecutionEvent{}
	for rows.Next() {
		var ev ExecutionEvent
		var at string
		if err := rows.Scan(&ev.Seq, &ev.ObservationID, &ev.Kind, &at); err != nil {
			return nil, fmt.Errorf("execution events %s: scan: %w", id, err)
		}
		if ev.RecordedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("execution events %s: %w", id, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execution events %s: %w", id, err)
	}
	return out, nil
}
