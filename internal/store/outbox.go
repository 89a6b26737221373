package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/obscal/internal/events"
	"github.com/roach88/obscal/internal/ir"
)

// OutboxEvent is a published edit event with its outbox position.
type OutboxEvent struct {
	Seq int64 `json:"seq"`
	events.Event
}

// Publish appends ev to the edit-event outbox. Inside a Tx the event
// becomes visible only if the transaction commits.
func (c conn) Publish(ctx context.Context, ev events.Event) error {
	value, err := marshalEventValue(ev.Value)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.ObservationID, err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO edit_events (program_id, observation_id, kind, value)
		VALUES (?, ?, ?, ?)
	`, ev.ProgramID, ev.ObservationID, string(ev.Kind), value)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.ObservationID, err)
	}
	return nil
}

// EditEvents returns a program's outbox events with seq greater than
// after, in publication order.
func (c conn) EditEvents(ctx context.Context, programID ir.ProgramID, after int64) ([]OutboxEvent, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT seq, program_id, observation_id, kind, value
		FROM edit_events
		WHERE program_id = ? AND seq > ?
		ORDER BY seq ASC
	`, programID, after)
	if err != nil {
		return nil, fmt.Errorf("edit events of %s: %w", programID, err)
	}
	defer rows.Close()

	out := []OutboxEvent{}
	for rows.Next() {
		var ev OutboxEvent
		var kind string
		var value sql.NullString
		if err := rows.Scan(&ev.Seq, &ev.ProgramID, &ev.ObservationID, &kind, &value); err != nil {
			return nil, fmt.Errorf("edit events of %s: scan: %w", programID, err)
		}
		ev.Kind = events.Kind(kind)
		if ev.Value, err = unmarshalEventValue(value); err != nil {
			return nil, fmt.Errorf("edit events of %s: %w", programID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("edit events of %s: %w", programID, err)
	}
	return out, nil
}
