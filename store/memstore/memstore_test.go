package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
)

func seedRecord(t *testing.T, m *MemStore, id, visitID string) *evv.Record {
	t.Helper()
	r := &evv.Record{
		ID:          id,
		VisitID:     visitID,
		TenantID:    "tenant-1",
		ClientID:    "member-1",
		CaregiverID: "cg-1",
		StateCode:   "TX",
		ClockInAt:   time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC),
		Status:      evv.StatusPending,
	}
	require.NoError(t, m.CreateRecord(context.Background(), r))
	return r
}

func TestCreateRecord_DuplicateIDConflicts(t *testing.T) {
	m := New()
	seedRecord(t, m, "evv-1", "visit-1")

	err := m.CreateRecord(context.Background(), &evv.Record{ID: "evv-1", VisitID: "visit-2"})
	require.Error(t, err)
	require.True(t, evverrors.IsConflict(err))
}

func TestCreateRecord_EnforcesOneLiveRecordPerVisit(t *testing.T) {
	m := New()
	seedRecord(t, m, "evv-1", "visit-1")

	err := m.CreateRecord(context.Background(), &evv.Record{ID: "evv-2", VisitID: "visit-1"})
	require.Error(t, err)
	require.True(t, evverrors.IsConflict(err))

	// an amendment fork of the live record is allowed in
	err = m.CreateRecord(context.Background(),
		&evv.Record{ID: "evv-3", VisitID: "visit-1", Amends: "evv-1"})
	require.NoError(t, err)
}

func TestGetRecordByVisit_TracksLiveRecord(t *testing.T) {
	m := New()
	seedRecord(t, m, "evv-1", "visit-1")

	got, err := m.GetRecordByVisit(context.Background(), "visit-1")
	require.NoError(t, err)
	require.Equal(t, "evv-1", got.ID)

	_, err = m.GetRecordByVisit(context.Background(), "visit-9")
	require.Error(t, err)
	require.True(t, evverrors.IsNotFound(err))
}

func TestUpdateRecord_BumpsVersionAndIsolatesCaller(t *testing.T) {
	m := New()
	rec := seedRecord(t, m, "evv-1", "visit-1")
	require.EqualValues(t, 1, rec.Version)

	updated, err := m.UpdateRecord(context.Background(), "evv-1", func(r *evv.Record) error {
		r.Status = evv.StatusComplete
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, updated.Version)
	require.Equal(t, evv.StatusComplete, updated.Status)

	// mutating the returned copy must not leak into the store
	updated.Status = evv.StatusVoided
	got, err := m.GetRecord(context.Background(), "evv-1")
	require.NoError(t, err)
	require.Equal(t, evv.StatusComplete, got.Status)
}

func TestUpdateRecord_MutatorErrorLeavesRowUntouched(t *testing.T) {
	m := New()
	seedRecord(t, m, "evv-1", "visit-1")

	_, err := m.UpdateRecord(context.Background(), "evv-1", func(r *evv.Record) error {
		r.Status = evv.StatusComplete
		return evverrors.New(evverrors.KindLocked, "no")
	})
	require.Error(t, err)

	got, err := m.GetRecord(context.Background(), "evv-1")
	require.NoError(t, err)
	require.Equal(t, evv.StatusPending, got.Status)
	require.EqualValues(t, 1, got.Version)
}

func TestUpdateRecord_AmendedDropsVisitIndex(t *testing.T) {
	m := New()
	seedRecord(t, m, "evv-1", "visit-1")

	_, err := m.UpdateRecord(context.Background(), "evv-1", func(r *evv.Record) error {
		r.Status = evv.StatusAmended
		return nil
	})
	require.NoError(t, err)

	_, err = m.GetRecordByVisit(context.Background(), "visit-1")
	require.Error(t, err)
	require.True(t, evverrors.IsNotFound(err))

	// the amendment fork becomes the live record for the visit
	require.NoError(t, m.CreateRecord(context.Background(), &evv.Record{ID: "evv-2", VisitID: "visit-1"}))
	got, err := m.GetRecordByVisit(context.Background(), "visit-1")
	require.NoError(t, err)
	require.Equal(t, "evv-2", got.ID)
}

func TestIdempotencyKeys(t *testing.T) {
	m := New()

	seen, err := m.SeenIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.False(t, seen)

	// checking never marks
	seen, err = m.SeenIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, m.MarkIdempotencyKey(context.Background(), "key-1"))

	seen, err = m.SeenIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = m.SeenIdempotencyKey(context.Background(), "key-2")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestCASSubmissionState_CreatesRowOnFirstClaim(t *testing.T) {
	m := New()

	sub, err := m.CASSubmissionState(context.Background(), "evv-1",
		[]evv.SubmissionState{evv.SubmissionNotSubmitted}, evv.SubmissionInFlight)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionInFlight, sub.State)
	require.NotNil(t, sub.InFlightSince)
}

func TestCASSubmissionState_RejectsDisallowedTransition(t *testing.T) {
	m := New()

	_, err := m.CASSubmissionState(context.Background(), "evv-1",
		[]evv.SubmissionState{evv.SubmissionNotSubmitted}, evv.SubmissionInFlight)
	require.NoError(t, err)

	// second claim while in flight must lose
	_, err = m.CASSubmissionState(context.Background(), "evv-1",
		[]evv.SubmissionState{evv.SubmissionNotSubmitted, evv.SubmissionAwaitingRetry}, evv.SubmissionInFlight)
	require.Error(t, err)
	require.True(t, evverrors.IsConflict(err))
}

func TestCASSubmissionState_ClearsInFlightSinceOnSettle(t *testing.T) {
	m := New()

	_, err := m.CASSubmissionState(context.Background(), "evv-1",
		[]evv.SubmissionState{evv.SubmissionNotSubmitted}, evv.SubmissionInFlight)
	require.NoError(t, err)

	sub, err := m.CASSubmissionState(context.Background(), "evv-1",
		[]evv.SubmissionState{evv.SubmissionInFlight}, evv.SubmissionAwaitingRetry)
	require.NoError(t, err)
	require.Nil(t, sub.InFlightSince)
}

func TestDueForRetry_FiltersByStateAndTime(t *testing.T) {
	m := New()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.NoError(t, m.PutSubmission(context.Background(), &evv.Submission{
		RecordID: "due", State: evv.SubmissionAwaitingRetry, NextAttemptAt: &past,
	}))
	require.NoError(t, m.PutSubmission(context.Background(), &evv.Submission{
		RecordID: "later", State: evv.SubmissionAwaitingRetry, NextAttemptAt: &future,
	}))
	require.NoError(t, m.PutSubmission(context.Background(), &evv.Submission{
		RecordID: "done", State: evv.SubmissionSubmitted,
	}))

	due, err := m.DueForRetry(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "due", due[0].RecordID)
}

func TestStuckInFlight_FiltersByAge(t *testing.T) {
	m := New()
	now := time.Now().UTC()
	old := now.Add(-time.Hour)

	require.NoError(t, m.PutSubmission(context.Background(), &evv.Submission{
		RecordID: "stuck", State: evv.SubmissionInFlight, InFlightSince: &old,
	}))
	require.NoError(t, m.PutSubmission(context.Background(), &evv.Submission{
		RecordID: "fresh", State: evv.SubmissionInFlight, InFlightSince: &now,
	}))

	stuck, err := m.StuckInFlight(context.Background(), now.Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "stuck", stuck[0].RecordID)
}

func TestEntriesForCaregiverSince(t *testing.T) {
	m := New()
	base := time.Now().UTC()

	for i, cg := range []string{"cg-1", "cg-1", "cg-2"} {
		require.NoError(t, m.AppendEntry(context.Background(), &evv.TimeEntry{
			ID:          "entry-" + string(rune('a'+i)),
			CaregiverID: cg,
			ReceivedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := m.EntriesForCaregiverSince(context.Background(), "cg-1", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].ReceivedAt.Before(got[1].ReceivedAt))
}

func TestExpiredPending_SkipsDecidedRequests(t *testing.T) {
	m := New()
	now := time.Now().UTC()

	mk := func(id string, status evv.VMURStatus, expires time.Time) {
		require.NoError(t, m.CreateVMUR(context.Background(), &evv.VMUR{
			ID: id, Status: status, ExpiresAt: expires,
		}))
	}
	mk("vmur-1", evv.VMURPending, now.Add(-time.Minute))
	mk("vmur-2", evv.VMURPending, now.Add(time.Hour))
	mk("vmur-3", evv.VMURApproved, now.Add(-time.Minute))

	expired, err := m.ExpiredPending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "vmur-1", expired[0].ID)
}

func TestListReviewTasks_FiltersByTenant(t *testing.T) {
	m := New()

	require.NoError(t, m.AddReviewTask(context.Background(), &evv.ReviewTask{ID: "t1", TenantID: "a"}))
	require.NoError(t, m.AddReviewTask(context.Background(), &evv.ReviewTask{ID: "t2", TenantID: "b"}))

	got, err := m.ListReviewTasks(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, got, 1)

	all, err := m.ListReviewTasks(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestDeviceRoundTrip(t *testing.T) {
	m := New()

	_, err := m.GetDevice(context.Background(), "dev-1")
	require.Error(t, err)
	require.True(t, evverrors.IsNotFound(err))

	require.NoError(t, m.UpsertDevice(context.Background(), &evv.MobileDevice{
		DeviceID: "dev-1", UserID: "cg-1",
	}))
	d, err := m.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "cg-1", d.UserID)
}
