package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/obscal/internal/catalog"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/selector"
	"github.com/roach88/obscal/internal/store"
	"github.com/roach88/obscal/internal/testutil"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	engine *Engine
	ids    *testutil.SequentialIDs
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultCatalogs(t *testing.T) selector.Catalogs {
	t.Helper()
	cats, err := catalog.DefaultSet()
	require.NoError(t, err)
	return cats
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	return newFixtureWithCatalogs(t, defaultCatalogs(t), opts...)
}

func newFixtureWithCatalogs(t *testing.T, cats selector.Catalogs, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "obscal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ids := testutil.NewSequentialIDs("id")
	base := []Option{WithIDGenerator(ids), WithLogger(quietLogger())}
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  s,
		engine: New(s, cats, append(base, opts...)...),
		ids:    ids,
	}
}

func (f *fixture) program(id ir.ProgramID, science ...ir.ScienceObservation) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreateProgram(f.ctx, id, "program "+string(id)))
	for _, obs := range science {
		obs.ProgramID = id
		require.NoError(f.t, f.store.PutScienceObservation(f.ctx, obs))
	}
}

func (f *fixture) recalc(id ir.ProgramID) Result {
	f.t.Helper()
	res, err := f.engine.Recalculate(f.ctx, id, testutil.RefInstant)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) calibrations(id ir.ProgramID) []ir.CalibrationObservation {
	f.t.Helper()
	cals, err := f.store.Calibrations(f.ctx, id)
	require.NoError(f.t, err)
	return cals
}

func (f *fixture) byRole(id ir.ProgramID, role ir.CalibrationRole) []ir.CalibrationObservation {
	var out []ir.CalibrationObservation
	for _, c := range f.calibrations(id) {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

func (f *fixture) target(id ir.TargetID) ir.Target {
	f.t.Helper()
	t, err := f.store.Target(f.ctx, id)
	require.NoError(f.t, err)
	return t
}

func (f *fixture) catalogRefs(cals []ir.CalibrationObservation) []string {
	refs := make([]string, 0, len(cals))
	for _, c := range cals {
		refs = append(refs, f.target(c.TargetID).CatalogRef)
	}
	sort.Strings(refs)
	return refs
}
