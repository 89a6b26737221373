// Package events turns reconciliation diffs into edit notifications.
//
// Three kinds exist: Created and Updated carry the full calibration value;
// HardDelete carries none. A non-deletion event with no value is never
// published. Such events arise when the persistence layer cascades row
// deletions and re-reads a row that no longer exists; the emitter drops
// them and logs at warn level.
//
// HardDelete events of one reconciliation form an unordered set.
// Consumers must not rely on their emission order.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/obscal/internal/ir"
)

// Kind is the edit kind of a notification.
type Kind string

const (
	Created    Kind = "created"
	Updated    Kind = "updated"
	HardDelete Kind = "hard_delete"
)

// Event is one edit notification.
type Event struct {
	ProgramID     ir.ProgramID               `json:"program_id"`
	ObservationID ir.ObservationID           `json:"observation_id"`
	Kind          Kind                       `json:"kind"`
	Value         *ir.CalibrationObservation `json:"value"`
}

// Publisher is the edit-notification channel.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Diff is the applied outcome of one reconciliation.
type Diff struct {
	ProgramID ir.ProgramID
	Added     []ir.CalibrationObservation
	Updated   []ir.CalibrationObservation
	Removed   []ir.ObservationID
}

// Emitter publishes a Diff as edit notifications.
type Emitter struct {
	pub     Publisher
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewEmitter creates an emitter. A nil logger uses slog.Default().
func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, logger: logger}
}

// Emit publishes Created, Updated and HardDelete events for diff and
// returns how many were published.
func (e *Emitter) Emit(ctx context.Context, diff Diff) (int, error) {
	n := 0
	for i := range diff.Added {
		ok, err := e.Send(ctx, Event{ProgramID: diff.ProgramID, ObservationID: diff.Added[i].ID, Kind: Created, Value: &diff.Added[i]})
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	for i := range diff.Updated {
		ok, err := e.Send(ctx, Event{ProgramID: diff.ProgramID, ObservationID: diff.Updated[i].ID, Kind: Updated, Value: &diff.Updated[i]})
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	for _, id := range diff.Removed {
		ok, err := e.Send(ctx, Event{ProgramID: diff.ProgramID, ObservationID: id, Kind: HardDelete})
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Send publishes a single event. It returns false without error when the
// event is dropped: a non-deletion event with a nil value, or a HardDelete
// carrying a value (the value is cleared instead).
func (e *Emitter) Send(ctx context.Context, ev Event) (bool, error) {
	switch ev.Kind {
	case Created, Updated:
		if ev.Value == nil {
			e.dropped.Add(1)
			e.logger.Warn("dropping edit event without value",
				"program", ev.ProgramID,
				"observation", ev.ObservationID,
				"kind", ev.Kind,
			)
			return false, nil
		}
	case HardDelete:
		ev.Value = nil
	default:
		return false, fmt.Errorf("emit: unknown edit kind %q", ev.Kind)
	}

	if err := e.pub.Publish(ctx, ev); err != nil {
		return false, fmt.Errorf("emit %s %s: %w", ev.Kind, ev.ObservationID, err)
	}
	return true, nil
}

// Dropped returns how many events the emitter has refused to publish.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Recorder is an in-memory Publisher used by tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends ev.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Value != nil {
		v := *ev.Value
		ev.Value = &v
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
