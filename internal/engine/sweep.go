package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/obscal/internal/ir"
)

// SweepResult is one program's outcome in a sweep.
type SweepResult struct {
	ProgramID ir.ProgramID `json:"program_id"`
	Result    Result       `json:"result"`
	Err       error        `json:"-"`
}

// Sweep recalculates many programs at ref, at most WithSweepWorkers at a
// time. An empty programs list sweeps every program in the store.
//
// One program's failure does not stop the others; it is reported in that
// program's SweepResult. Sweep itself only fails when listing programs
// fails or ctx is cancelled. Results follow the order of programs.
func (e *Engine) Sweep(ctx context.Context, ref time.Time, programs []ir.ProgramID) ([]SweepResult, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	if len(programs) == 0 {
		all, err := e.store.ListPrograms(ctx)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		for _, p := range all {
			programs = append(programs, p.ID)
		}
	}

	results := make([]SweepResult, len(programs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, programID := range programs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Recalculate(gctx, programID, ref)
			results[i] = SweepResult{ProgramID: programID, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("sweep: %w", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	e.logger.Info("sweep finished", "programs", len(programs), "failed", failed, "workers", e.workers)
	return results, nil
}
