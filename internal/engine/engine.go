package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/obscal/internal/events"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/planner"
	"github.com/roach88/obscal/internal/selector"
	"github.com/roach88/obscal/internal/store"
)

// ObservationStore reads and writes a program's observations.
type ObservationStore interface {
	ScienceObservations(ctx context.Context, programID ir.ProgramID, states ...ir.WorkflowState) ([]ir.ScienceObservation, error)
	Calibrations(ctx context.Context, programID ir.ProgramID) ([]ir.CalibrationObservation, error)
	Calibration(ctx context.Context, programID ir.ProgramID, id ir.ObservationID) (ir.CalibrationObservation, error)
	InsertCalibration(ctx context.Context, cal ir.CalibrationObservation) error
	UpdateCalibrationParams(ctx context.Context, id ir.ObservationID, params ir.CalibrationParams) error
	UpdateCalibrationTarget(ctx context.Context, id ir.ObservationID, target ir.TargetID, title string) error
	DeleteCalibration(ctx context.Context, id ir.ObservationID) error
}

// ExecutionStore answers whether an observation has executed.
type ExecutionStore interface {
	HasExecutionEvents(ctx context.Context, id ir.ObservationID) (bool, error)
}

// GroupManager owns the program's system calibration group.
type GroupManager interface {
	EnsureCalibrationGroup(ctx context.Context, programID ir.ProgramID, newID func() ir.GroupID) (ir.GroupID, error)
}

// TargetStore reads and writes calibration targets.
type TargetStore interface {
	Target(ctx context.Context, id ir.TargetID) (ir.Target, error)
	InsertTarget(ctx context.Context, t ir.Target) error
	DeleteTarget(ctx context.Context, id ir.TargetID) error
}

// VersionStore guards a program's calibration state with an optimistic
// version counter.
type VersionStore interface {
	ProgramVersion(ctx context.Context, programID ir.ProgramID) (int64, error)
	BumpProgramVersion(ctx context.Context, programID ir.ProgramID, expected int64) error
}

// Deps bundles the transactional collaborators of one reconciliation.
// Every member must be bound to the same transaction.
type Deps struct {
	Observations ObservationStore
	Executions   ExecutionStore
	Groups       GroupManager
	Targets      TargetStore
	Versions     VersionStore
	Publisher    events.Publisher
}

// TxDeps binds every collaborator to tx.
func TxDeps(tx *store.Tx) Deps {
	return Deps{
		Observations: tx,
		Executions:   tx,
		Groups:       tx,
		Targets:      tx,
		Versions:     tx,
		Publisher:    tx,
	}
}

func (d Deps) validate() error {
	if d.Observations == nil || d.Executions == nil || d.Groups == nil ||
		d.Targets == nil || d.Versions == nil || d.Publisher == nil {
		return errors.New("engine: incomplete dependency bundle")
	}
	return nil
}

// DefaultSweepWorkers is the default number of programs swept concurrently.
const DefaultSweepWorkers = 4

// Engine reconciles programs' calibration observations.
//
// Thread-safety model:
//   - Recalculate, RecalculateSingleTarget and Sweep: safe from any goroutine
//   - Operations on one program are serialized by a per-program lock
//   - Operations on different programs run concurrently and contend only on
//     the store's single connection
type Engine struct {
	store    *store.Store
	catalogs selector.Catalogs
	workflow planner.WorkflowEvaluator
	ids      IDGenerator
	logger   *slog.Logger
	workers  int
	locks    *programLocks
	stats    counters
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithWorkflow replaces the eligibility evaluator.
func WithWorkflow(w planner.WorkflowEvaluator) Option {
	return func(e *Engine) { e.workflow = w }
}

// WithIDGenerator replaces the UUIDv7 id generator.
// Use a FixedGenerator or testutil.SequentialIDs for deterministic tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSweepWorkers bounds how many programs Sweep reconciles at once.
//
// Default: 4 (DefaultSweepWorkers). Values below 1 are ignored.
func WithSweepWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engine over s, selecting standard-star targets from cats.
//
// s may be nil when the engine is only driven through RecalculateIn.
func New(s *store.Store, cats selector.Catalogs, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		catalogs: cats,
		workflow: planner.DefaultWorkflow{},
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
		workers:  DefaultSweepWorkers,
		locks:    newProgramLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one program reconciliation.
type Result struct {
	Added   []ir.ObservationID `json:"added"`
	Removed []ir.ObservationID `json:"removed"`
	Updated []ir.ObservationID `json:"updated"`
	// Retained lists orphaned calibrations kept because they have executed.
	Retained []ir.ObservationID `json:"retained"`
	// Skipped lists desired calibrations whose target selection failed.
	Skipped []Skipped `json:"skipped"`
}

// Empty reports whether the reconciliation changed nothing.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Updated) == 0
}

// Skipped is a desired calibration that could not be created.
type Skipped struct {
	Role    ir.CalibrationRole `json:"role"`
	KeyHash string             `json:"key_hash"`
	Reason  string             `json:"reason"`
}

// Stats is a snapshot of engine telemetry counters.
type Stats struct {
	Recalculations          int64 `json:"recalculations"`
	Added                   int64 `json:"added"`
	Removed                 int64 `json:"removed"`
	Updated                 int64 `json:"updated"`
	Skipped                 int64 `json:"skipped"`
	ConcurrentModifications int64 `json:"concurrent_modifications"`
}

type counters struct {
	recalculations atomic.Int64
	added          atomic.Int64
	removed        atomic.Int64
	updated        atomic.Int64
	skipped        atomic.Int64
	conflicts      atomic.Int64
}

func (c *counters) record(r Result) {
	c.recalculations.Add(1)
	c.added.Add(int64(len(r.Added)))
	c.removed.Add(int64(len(r.Removed)))
	c.updated.Add(int64(len(r.Updated)))
	c.skipped.Add(int64(len(r.Skipped)))
}

// Stats returns the engine's telemetry counters. Counts cover committed
// reconciliations only.
func (e *Engine) Stats() Stats {
	return Stats{
		Recalculations:          e.stats.recalculations.Load(),
		Added:                   e.stats.added.Load(),
		Removed:                 e.stats.removed.Load(),
		Updated:                 e.stats.updated.Load(),
		Skipped:                 e.stats.skipped.Load(),
		ConcurrentModifications: e.stats.conflicts.Load(),
	}
}

func (e *Engine) newID() string {
	return e.ids.Generate()
}

func (e *Engine) requireStore() error {
	if e.store == nil {
		return errors.New("engine: no store configured")
	}
	return nil
}

// programLocks hands out one mutex per program. Entries are reference
// counted and dropped when the last holder unlocks.
type programLocks struct {
	mu    sync.Mutex
	locks map[ir.ProgramID]*programLock
}

type programLock struct {
	mu   sync.Mutex
	refs int
}

func newProgramLocks() *programLocks {
	return &programLocks{locks: make(map[ir.ProgramID]*programLock)}
}

// Lock blocks until program's lock is held and returns its release func.
func (l *programLocks) Lock(program ir.ProgramID) func() {
	l.mu.Lock()
	pl, ok := l.locks[program]
	if !ok {
		pl = &programLock{}
		l.locks[program] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, program)
		}
		l.mu.Unlock()
	}
}

// held returns how many programs currently have a lock entry.
func (l *programLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
