package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/obscal/internal/catalog"
	"github.com/roach88/obscal/internal/events"
	"github.com/roach88/obscal/internal/ir"
	"github.com/roach88/obscal/internal/store"
	"github.com/roach88/obscal/internal/testutil"
)

func TestRecalculate_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.program("p1",
		testutil.Science("o1", "", testutil.WithReferenceWavelength(500)),
		testutil.Science("o2", "", testutil.WithReferenceWavelength(520)),
	)

	res := f.recalc("p1")
	assert.Equal(t, []ir.ObservationID{"id-0002", "id-0004"}, res.Added)
	assert.Empty(t, res.Removed)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Skipped)

	group, err := f.store.CalibrationGroup(f.ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ir.GroupID("id-0001"), group.ID)
	assert.Equal(t, "Calibrations", group.Name)
	assert.True(t, group.System)

	cals := f.calibrations("p1")
	require.Len(t, cals, 2)

	std := cals[0]
	assert.Equal(t, ir.RoleSpectroPhotometric, std.Role)
	assert.Equal(t, "Spectrophotometric standard: Feige 34", std.Title)
	assert.Equal(t, group.ID, std.GroupID)
	assert.Equal(t, ir.Nanometers(510), std.Params.ReferenceWavelength)
	assert.True(t, testutil.RefInstant.Equal(std.ReferenceInstant))
	assert.Equal(t, "feige34", f.target(std.TargetID).CatalogRef)

	twilight := cals[1]
	assert.Equal(t, ir.RoleTwilight, twilight.Role)
	assert.Equal(t, "Twilight flat: Twilight GN", twilight.Title)
	tgt := f.target(twilight.TargetID)
	assert.Equal(t, ir.SourceEphemeris, tgt.Source)
	assert.Empty(t, tgt.CatalogRef)
	assert.InDelta(t, ir.SiteGN.Latitude, tgt.Position.DecDegrees(), 1e-6)

	again := f.recalc("p1")
	assert.True(t, again.Empty())
	assert.Empty(t, again.Added)
	assert.Empty(t, again.Removed)
}

func TestRecalculate_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.program("p1",
		testutil.Science("o1", ""),
		testutil.Science("o2", "", testutil.WithGrating("R400_G5305"), testutil.WithROI("FullFrame")),
	)
	f.recalc("p1")
	before := f.calibrations("p1")
	version, err := f.store.ProgramVersion(f.ctx, "p1")
	require.NoError(t, err)

	res := f.recalc("p1")
	assert.True(t, res.Empty())

	if diff := cmp.Diff(before, f.calibrations("p1")); diff != "" {
		t.Errorf("second recalculation changed state (-before +after):\n%s", diff)
	}
	after, err := f.store.ProgramVersion(f.ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, version, after, "empty reconciliation must not bump the version")
}

func TestRecalculate_TargetUniqueness(t *testing.T) {
	f := newFixture(t)
	f.program("p1",
		testutil.Science("o1", ""),
		testutil.Science("o2", "", testutil.WithGrating("R400_G5305")),
		testutil.Science("o3", "", testutil.WithGrating("R831_G5302")),
	)
	f.recalc("p1")

	cals := f.calibrations("p1")
	seen := map[ir.TargetID]ir.ObservationID{}
	for _, c := range cals {
		other, dup := seen[c.TargetID]
		assert.False(t, dup, "%s and %s share target %s", c.ID, other, c.TargetID)
		seen[c.TargetID] = c.ID
	}

	std := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, std, 3)
	assert.Equal(t, []string{"feige34", "feige66", "hz21"}, f.catalogRefs(std))
}

func TestRecalculate_RoleSpecificROIPolicy(t *testing.T) {
	f := newFixture(t)
	f.program("p1",
		testutil.Science("o1", "", testutil.WithROI("CentralSpectrum")),
		testutil.Science("o2", "", testutil.WithROI("FullFrame")),
	)
	f.recalc("p1")

	assert.Len(t, f.byRole("p1", ir.RoleSpectroPhotometric), 1, "standard stars ignore ROI")
	twilight := f.byRole("p1", ir.RoleTwilight)
	require.Len(t, twilight, 2, "twilight flats split by ROI")
	assert.NotEqual(t, twilight[0].TargetID, twilight[1].TargetID)

	rois := []string{twilight[0].Key.ROI, twilight[1].Key.ROI}
	assert.ElementsMatch(t, []string{"CentralSpectrum", "FullFrame"}, rois)
}

func TestRecalculate_AggregationUpdates(t *testing.T) {
	f := newFixture(t)
	f.program("p1",
		testutil.Science("o1", "", testutil.WithReferenceWavelength(500)),
		testutil.Science("o2", "", testutil.WithReferenceWavelength(520)),
	)
	f.recalc("p1")
	std := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, std, 1)
	assert.Equal(t, ir.Nanometers(510), std[0].Params.ReferenceWavelength)

	require.NoError(t, f.store.PutScienceObservation(f.ctx,
		testutil.Science("o2", "p1", testutil.WithReferenceWavelength(540))))

	res := f.recalc("p1")
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.ElementsMatch(t, []ir.ObservationID{std[0].ID, f.byRole("p1", ir.RoleTwilight)[0].ID}, res.Updated)

	updated := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, updated, 1)
	assert.Equal(t, std[0].ID, updated[0].ID, "identity preserved across parameter update")
	assert.Equal(t, std[0].TargetID, updated[0].TargetID)
	assert.Equal(t, ir.Nanometers(520), updated[0].Params.ReferenceWavelength)
}

func TestRecalculate_InactiveProgramCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.program("p1",
		testutil.Science("o1", "", testutil.WithState(ir.StateInactive)),
		testutil.Science("o2", "", testutil.WithState(ir.StateCompleted)),
		testutil.Science("o3", "", testutil.WithoutConfig()),
	)

	res := f.recalc("p1")
	assert.True(t, res.Empty())
	assert.Empty(t, f.calibrations("p1"))

	_, err := f.store.CalibrationGroup(f.ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound, "no group without calibrations")
	assert.Zero(t, f.ids.Count())
}

func TestRecalculate_DeletionCascade(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))
	f.recalc("p1")
	cals := f.calibrations("p1")
	require.Len(t, cals, 2)

	_, err := f.store.SetWorkflowState(f.ctx, "o1", ir.StateInactive)
	require.NoError(t, err)

	res := f.recalc("p1")
	assert.Equal(t, []ir.ObservationID{cals[0].ID, cals[1].ID}, res.Removed)
	assert.Empty(t, res.Added)
	assert.Empty(t, f.calibrations("p1"))

	targets, err := f.store.Targets(f.ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, targets, "targets of deleted calibrations are removed")

	_, err = f.store.CalibrationGroup(f.ctx, "p1")
	assert.NoError(t, err, "the calibration group is never deleted")
}

func TestRecalculate_ExecutionRetention(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))
	f.recalc("p1")
	std := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, std, 1)
	executed := std[0]
	require.NoError(t, f.store.RecordExecutionEvent(f.ctx, executed.ID, "step_start", testutil.RefInstant))

	_, err := f.store.SetWorkflowState(f.ctx, "o1", ir.StateInactive)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res := f.recalc("p1")
		assert.NotContains(t, res.Removed, executed.ID)
		assert.Equal(t, []ir.ObservationID{executed.ID}, res.Retained)
	}

	cals := f.calibrations("p1")
	require.Len(t, cals, 1)
	assert.Equal(t, executed.ID, cals[0].ID)
	assert.True(t, cals[0].HasExecutionEvents)

	// The class comes back: the retained calibration is matched, not duplicated.
	_, err = f.store.SetWorkflowState(f.ctx, "o1", ir.StateReady)
	require.NoError(t, err)
	res := f.recalc("p1")
	require.Len(t, res.Added, 1)
	assert.Len(t, f.byRole("p1", ir.RoleSpectroPhotometric), 1)
}

func TestRecalculate_NewCalibrationAvoidsRetainedTarget(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))
	f.recalc("p1")
	std := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, std, 1)
	require.NoError(t, f.store.RecordExecutionEvent(f.ctx, std[0].ID, "step_start", testutil.RefInstant))

	// A new configuration class replaces the old one; the executed
	// calibration keeps Feige 34, so the new one takes the runner-up.
	cfg := testutil.Config()
	cfg.Grating = "R400_G5305"
	_, err := f.store.UpdateInstrumentConfig(f.ctx, store.PrincipalUser, "o1", cfg)
	require.NoError(t, err)

	f.recalc("p1")
	stds := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, stds, 2)
	assert.Equal(t, []string{"feige34", "hz21"}, f.catalogRefs(stds))
}

func TestRecalculate_SkipsDescriptorWithoutCatalogTarget(t *testing.T) {
	f := newFixtureWithCatalogs(t, catalog.NewSet(catalog.DefaultMinAltitude))
	f.program("p1", testutil.Science("o1", ""))

	res, err := f.engine.Recalculate(f.ctx, "p1", testutil.RefInstant)
	require.NoError(t, err, "missing catalog targets never fail the reconciliation")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ir.RoleSpectroPhotometric, res.Skipped[0].Role)
	assert.Equal(t, string(ErrCodeNoCatalogTarget), res.Skipped[0].Reason)
	assert.Len(t, res.Added, 1, "twilight is still created")

	assert.Equal(t, int64(1), f.engine.Stats().Skipped)
	assert.Equal(t, int64(1), f.engine.Stats().Added)
	assert.Equal(t, 3, f.ids.Count(), "a skipped descriptor allocates no ids")
}

func TestRecalculate_PublishesEventsToOutbox(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))
	res := f.recalc("p1")

	evs, err := f.store.EditEvents(f.ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	for i, ev := range evs {
		assert.Equal(t, events.Created, ev.Kind)
		assert.Equal(t, res.Added[i], ev.ObservationID)
		require.NotNil(t, ev.Value)
	}

	_, err = f.store.SetWorkflowState(f.ctx, "o1", ir.StateInactive)
	require.NoError(t, err)
	f.recalc("p1")

	evs, err = f.store.EditEvents(f.ctx, "p1", evs[1].Seq)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, events.HardDelete, ev.Kind)
		assert.Nil(t, ev.Value)
	}
}

func TestRecalculate_UnknownProgram(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Recalculate(f.ctx, "missing", testutil.RefInstant)
	assert.ErrorIs(t, err, store.ErrProgramNotFound)
}

func TestRecalculate_CancelledContextPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.Recalculate(ctx, "p1", testutil.RefInstant)
	require.Error(t, err)
	assert.Empty(t, f.calibrations("p1"))
}

// conflictingVersions reports a version that moves before the bump.
type conflictingVersions struct {
	VersionStore
}

func (c conflictingVersions) BumpProgramVersion(ctx context.Context, id ir.ProgramID, expected int64) error {
	return c.VersionStore.BumpProgramVersion(ctx, id, expected+1)
}

func TestRecalculateIn_ConcurrentModificationRollsBack(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))

	err := f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		deps := TxDeps(tx)
		deps.Versions = conflictingVersions{VersionStore: tx}
		_, err := f.engine.RecalculateIn(f.ctx, deps, "p1", testutil.RefInstant)
		return err
	})
	require.Error(t, err)
	assert.True(t, IsConcurrentModification(err))
	assert.True(t, errors.Is(err, store.ErrConcurrentModification))

	assert.Empty(t, f.calibrations("p1"), "no partial state after a conflict")
	evs, err := f.store.EditEvents(f.ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, int64(1), f.engine.Stats().ConcurrentModifications)
}

func TestRecalculateIn_RejectsIncompleteDeps(t *testing.T) {
	e := New(nil, defaultCatalogs(t), WithLogger(quietLogger()))
	_, err := e.RecalculateIn(context.Background(), Deps{}, "p1", time.Now())
	require.Error(t, err)
}

func TestRecalculate_WithoutStore(t *testing.T) {
	e := New(nil, defaultCatalogs(t), WithLogger(quietLogger()))
	_, err := e.Recalculate(context.Background(), "p1", time.Now())
	require.Error(t, err)
}

func TestRecalculate_SeparateProgramsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))
	f.program("p2", testutil.Science("o2", ""))
	f.recalc("p1")
	f.recalc("p2")

	// Target uniqueness is per program: both may use Feige 34.
	assert.Equal(t, []string{"feige34"}, f.catalogRefs(f.byRole("p1", ir.RoleSpectroPhotometric)))
	assert.Equal(t, []string{"feige34"}, f.catalogRefs(f.byRole("p2", ir.RoleSpectroPhotometric)))
}

func TestRecalculate_GeminiSouthUsesSouthernStandards(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", "", testutil.WithInstrument(ir.GmosSouth)))
	f.recalc("p1")

	std := f.byRole("p1", ir.RoleSpectroPhotometric)
	require.Len(t, std, 1)
	assert.Equal(t, []string{"ltt6248"}, f.catalogRefs(std))
	assert.Equal(t, "Twilight flat: Twilight GS", f.byRole("p1", ir.RoleTwilight)[0].Title)
}

// countingVersions counts version reads and bumps.
type countingVersions struct {
	VersionStore
	reads, bumps *int
}

func (c countingVersions) ProgramVersion(ctx context.Context, id ir.ProgramID) (int64, error) {
	*c.reads++
	return c.VersionStore.ProgramVersion(ctx, id)
}

func (c countingVersions) BumpProgramVersion(ctx context.Context, id ir.ProgramID, expected int64) error {
	*c.bumps++
	return c.VersionStore.BumpProgramVersion(ctx, id, expected)
}

func TestRecalculateIn_UnchangedProgramTouchesVersionOnce(t *testing.T) {
	f := newFixture(t)
	f.program("p1", testutil.Science("o1", ""))
	f.recalc("p1")

	var reads, bumps int
	err := f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		deps := TxDeps(tx)
		deps.Versions = countingVersions{VersionStore: tx, reads: &reads, bumps: &bumps}
		res, err := f.engine.RecalculateIn(f.ctx, deps, "p1", testutil.RefInstant)
		if err == nil {
			assert.True(t, res.Empty())
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reads)
	assert.Zero(t, bumps)
}
