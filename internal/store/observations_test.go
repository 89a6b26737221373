package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/obscal/internal/events"
	"github.com/roach88/obscal/internal/ir"
)

func TestScienceObservationRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")

	at := refInstant.Add(90 * time.Minute)
	obs := testScience("o1", "p1")
	obs.ObservationTime = &at
	require.NoError(t, s.PutScienceObservation(ctx, obs))

	got, err := s.ScienceObservation(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, obs, got)

	obs.Title = "renamed"
	obs.Config = nil
	require.NoError(t, s.PutScienceObservation(ctx, obs))
	got, err = s.ScienceObservation(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Nil(t, got.Config)
}

func TestScienceObservationsFiltersAndOrders(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedProgram(t, s, "p2")

	for _, id := range []ir.ObservationID{"o3", "o1", "o2"} {
		require.NoError(t, s.PutScienceObservation(ctx, testScience(id, "p1")))
	}
	require.NoError(t, s.PutScienceObservation(ctx, testScience("x1", "p2")))
	_, err := s.SetWorkflowState(ctx, "o2", ir.StateInactive)
	require.NoError(t, err)

	all, err := s.ScienceObservations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []ir.ObservationID{"o1", "o2", "o3"}, []ir.ObservationID{all[0].ID, all[1].ID, all[2].ID})

	ready, err := s.ScienceObservations(ctx, "p1", ir.StateReady, ir.StateOngoing)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, ir.ObservationID("o1"), ready[0].ID)
	assert.Equal(t, ir.ObservationID("o3"), ready[1].ID)
}

func TestScienceObservationsExcludeCalibrations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t1", "p1", "")
	require.NoError(t, s.InsertCalibration(ctx, testCalibration("c1", "p1", "t1")))

	got, err := s.ScienceObservations(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.ScienceObservation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutScienceObservationNeverOverwritesCalibration(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t1", "p1", "")
	cal := testCalibration("c1", "p1", "t1")
	require.NoError(t, s.InsertCalibration(ctx, cal))

	require.NoError(t, s.PutScienceObservation(ctx, testScience("c1", "p1")))

	got, err := s.Calibration(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, cal.Title, got.Title)
}

func TestSetWorkflowStateRejectsUnknownState(t *testing.T) {
	s := createTestStore(t)
	_, err := s.SetWorkflowState(context.Background(), "o1", "archived")
	require.Error(t, err)
}

func TestDeleteScienceObservation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t1", "p1", "")
	require.NoError(t, s.PutScienceObservation(ctx, testScience("o1", "p1")))
	require.NoError(t, s.InsertCalibration(ctx, testCalibration("c1", "p1", "t1")))

	n, err := s.DeleteScienceObservation(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteScienceObservation(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n, "calibrations are only deleted by the reconciler")
}

func TestUserEditsOfCalibrationsAffectZeroRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t1", "p1", "")
	require.NoError(t, s.PutScienceObservation(ctx, testScience("o1", "p1")))
	require.NoError(t, s.InsertCalibration(ctx, testCalibration("c1", "p1", "t1")))

	t.Run("constraints", func(t *testing.T) {
		n, err := s.UpdateObservationConstraints(ctx, PrincipalUser, "c1", "IQ70")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.UpdateObservationConstraints(ctx, PrincipalUser, "o1", "IQ70")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.UpdateObservationConstraints(ctx, PrincipalService, "c1", "IQ85")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		cs, err := s.ConstraintSet(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "IQ85", cs)
	})

	t.Run("mode", func(t *testing.T) {
		cfg := testConfig()
		cfg.Grating = "R400_G5305"
		n, err := s.UpdateInstrumentConfig(ctx, PrincipalUser, "c1", cfg)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.UpdateInstrumentConfig(ctx, PrincipalUser, "o1", cfg)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("clone", func(t *testing.T) {
		n, err := s.CloneObservation(ctx, "c1", "c1-copy")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.CloneObservation(ctx, "o1", "o1-copy")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		clone, err := s.ScienceObservation(ctx, "o1-copy")
		require.NoError(t, err)
		assert.Equal(t, "R400_G5305", clone.Config.Grating)
	})

	t.Run("observation time is allowed", func(t *testing.T) {
		at := refInstant.Add(time.Hour)
		n, err := s.SetObservationTime(ctx, "c1", &at)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		cal, err := s.Calibration(ctx, "p1", "c1")
		require.NoError(t, err)
		require.NotNil(t, cal.ObservationTime)
		assert.True(t, at.Equal(*cal.ObservationTime))
	})
}

func TestCalibrationWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t1", "p1", "feige34")
	seedTarget(t, s, "t2", "p1", "hz21")

	cal := testCalibration("c1", "p1", "t1")
	require.NoError(t, s.InsertCalibration(ctx, cal))

	got, err := s.Calibration(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, cal, got)

	require.NoError(t, s.UpdateCalibrationParams(ctx, "c1", ir.CalibrationParams{ReferenceWavelength: ir.Nanometers(520)}))
	require.NoError(t, s.UpdateCalibrationTarget(ctx, "c1", "t2", "Spectrophotometric standard: HZ 21"))

	got, err = s.Calibration(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, ir.Nanometers(520), got.Params.ReferenceWavelength)
	assert.Equal(t, ir.TargetID("t2"), got.TargetID)
	assert.Equal(t, "Spectrophotometric standard: HZ 21", got.Title)

	require.NoError(t, s.DeleteCalibration(ctx, "c1"))
	_, err = s.Calibration(ctx, "p1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteCalibration(ctx, "c1"), ErrNotFound)
}

func TestCalibrationsReportExecutionEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t1", "p1", "")
	seedTarget(t, s, "t2", "p1", "")

	first := testCalibration("c1", "p1", "t1")
	second := testCalibration("c2", "p1", "t2")
	second.Role = ir.RoleTwilight
	second.Key = ir.NewConfigurationKey(ir.RoleTwilight, *testConfig(), true)
	second.KeyHash = second.Key.Hash()
	require.NoError(t, s.InsertCalibration(ctx, second))
	require.NoError(t, s.InsertCalibration(ctx, first))
	require.NoError(t, s.RecordExecutionEvent(ctx, "c2", "step_start", refInstant))

	cals, err := s.Calibrations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.Equal(t, ir.ObservationID("c1"), cals[0].ID)
	assert.False(t, cals[0].HasExecutionEvents)
	assert.True(t, cals[1].HasExecutionEvents)

	has, err := s.HasExecutionEvents(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, has)

	evs, err := s.ExecutionEvents(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "step_start", evs[0].Kind)
	assert.True(t, refInstant.Equal(evs[0].RecordedAt))
}

func TestEnsureCalibrationGroupIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")

	_, err := s.CalibrationGroup(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateGroup(ctx, ir.CalibrationGroup{ID: "user-group", ProgramID: "p1", Name: "Night 1"}))

	calls := 0
	newID := func() ir.GroupID {
		calls++
		return ir.GroupID(fmt.Sprintf("g%d", calls))
	}

	id, err := s.EnsureCalibrationGroup(ctx, "p1", newID)
	require.NoError(t, err)
	assert.Equal(t, ir.GroupID("g1"), id)

	id, err = s.EnsureCalibrationGroup(ctx, "p1", newID)
	require.NoError(t, err)
	assert.Equal(t, ir.GroupID("g1"), id)
	assert.Equal(t, 1, calls, "id generator is only used on creation")

	g, err := s.CalibrationGroup(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ir.CalibrationGroup{ID: "g1", ProgramID: "p1", Name: ir.CalibrationGroupName, System: true}, g)
}

func TestProgramVersionOptimisticCheck(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ProgramVersion(ctx, "missing")
	assert.ErrorIs(t, err, ErrProgramNotFound)

	seedProgram(t, s, "p1")
	v, err := s.ProgramVersion(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.BumpProgramVersion(ctx, "p1", 0))
	assert.ErrorIs(t, s.BumpProgramVersion(ctx, "p1", 0), ErrConcurrentModification)

	v, err = s.ProgramVersion(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestTargets(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p1")
	seedTarget(t, s, "t2", "p1", "")
	seedTarget(t, s, "t1", "p1", "feige34")

	got, err := s.Target(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, ir.SourceCatalog, got.Source)
	assert.Equal(t, "feige34", got.CatalogRef)

	all, err := s.Targets(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ir.TargetID("t1"), all[0].ID)
	assert.Empty(t, all[1].CatalogRef)

	require.NoError(t, s.DeleteTarget(ctx, "t1"))
	_, err = s.Target(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutboxPublishAndRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cal := testCalibration("c1", "p1", "t1")

	require.NoError(t, s.Publish(ctx, events.Event{ProgramID: "p1", ObservationID: "c1", Kind: events.Created, Value: &cal}))
	require.NoError(t, s.Publish(ctx, events.Event{ProgramID: "p2", ObservationID: "x1", Kind: events.Created, Value: &cal}))
	require.NoError(t, s.Publish(ctx, events.Event{ProgramID: "p1", ObservationID: "c1", Kind: events.HardDelete}))

	got, err := s.EditEvents(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.Created, got[0].Kind)
	require.NotNil(t, got[0].Value)
	assert.Equal(t, cal.KeyHash, got[0].Value.KeyHash)
	assert.True(t, cal.ReferenceInstant.Equal(got[0].Value.ReferenceInstant))
	assert.Equal(t, events.HardDelete, got[1].Kind)
	assert.Nil(t, got[1].Value)

	later, err := s.EditEvents(ctx, "p1", got[0].Seq)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, got[1].Seq, later[0].Seq)
}

func TestOutboxRollsBackWithTransaction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Publish(ctx, events.Event{ProgramID: "p1", ObservationID: "c1", Kind: events.HardDelete}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.EditEvents(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListQueriesOrderByBinaryID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedProgram(t, s, "p2")
	seedProgram(t, s, "P1")
	seedProgram(t, s, "p1")

	programs, err := s.ListPrograms(ctx)
	require.NoError(t, err)
	var ids []ir.ProgramID
	for _, p := range programs {
		ids = append(ids, p.ID)
	}
	// Binary collation sorts upper case before lower case.
	assert.Equal(t, []ir.ProgramID{"P1", "p1", "p2"}, ids)

	for _, id := range []ir.ObservationID{"ob", "oA", "oa"} {
		require.NoError(t, s.PutScienceObservation(ctx, testScience(id, "p1")))
	}
	science, err := s.ScienceObservations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, science, 3)
	assert.Equal(t, []ir.ObservationID{"oA", "oa", "ob"},
		[]ir.ObservationID{science[0].ID, science[1].ID, science[2].ID})

	seedTarget(t, s, "tb", "p1", "feige66")
	seedTarget(t, s, "ta", "p1", "feige34")
	targets, err := s.Targets(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, ir.TargetID("ta"), targets[0].ID)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertCalibration(ctx, testCalibration("c2", "p1", "tb")); err != nil {
			return err
		}
		other := testCalibration("c1", "p1", "ta")
		other.Role = ir.RoleTwilight
		other.Key = ir.NewConfigurationKey(ir.RoleTwilight, *testConfig(), true)
		other.KeyHash = other.Key.Hash()
		return tx.InsertCalibration(ctx, other)
	}))
	cals, err := s.Calibrations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.Equal(t, ir.ObservationID("c1"), cals[0].ID)
	assert.Equal(t, ir.ObservationID("c2"), cals[1].ID)
}
