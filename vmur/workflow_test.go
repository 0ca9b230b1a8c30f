package vmur

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/engine"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/logging"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/store/memstore"
)

type fakeSubmitter struct {
	calls []string
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, recordID string) error {
	f.calls = append(f.calls, recordID)
	return f.err
}

var serviceDay = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestWorkflow(t *testing.T) (*Workflow, *memstore.MemStore, *fakeSubmitter, *time.Time) {
	t.Helper()
	st := memstore.New()
	pol := policy.NewTable()
	eng := engine.New(logging.NewTestLogger(), metrics.NoopMetrics, st, pol)
	sub := &fakeSubmitter{}
	w := New(logging.NewTestLogger(), metrics.NoopMetrics, st, eng, pol, sub)

	cur := serviceDay.Add(40 * 24 * time.Hour) // inside the unlock window
	w.now = func() time.Time { return cur }
	return w, st, sub, &cur
}

// seedLockedRecord stores a Complete, sealed record whose service date the
// window checks measure against.
func seedLockedRecord(t *testing.T, st *memstore.MemStore, stateCode string) *evv.Record {
	t.Helper()
	in := serviceDay.Add(9 * time.Hour)
	out := in.Add(4 * time.Hour)
	r := &evv.Record{
		ID:          "evv-locked-1",
		VisitID:     "visit-1",
		TenantID:    "tenant-1",
		ClientID:    "member-1",
		CaregiverID: "cg-1",

		ServiceTypeCode: "T1019",
		ServiceDate:     serviceDay,
		StateCode:       stateCode,
		StateData:       map[string]string{"attendantId": "att-9"},

		ClockInAt:  in,
		ClockOutAt: &out,
		ClockInVerification: &evv.Verification{
			Latitude: 30.2672, Longitude: -97.7431, AccuracyMeters: 8,
			DeviceTimestamp: in, Method: evv.MethodGPS,
			Device: evv.DeviceFingerprint{DeviceID: "dev-1"},
		},
		ClockOutVerification: &evv.Verification{
			Latitude: 30.2672, Longitude: -97.7431, AccuracyMeters: 8,
			DeviceTimestamp: out, Method: evv.MethodGPS,
			Device: evv.DeviceFingerprint{DeviceID: "dev-1"},
		},
		TotalDuration: out.Sub(in),
		Status:        evv.StatusComplete,
		Level:         evv.LevelFull,
	}
	evv.SealIntegrity(r)
	require.NoError(t, st.CreateRecord(context.Background(), r))
	return r
}

func createInput(recordID string) CreateInput {
	newOut := serviceDay.Add(14 * time.Hour)
	return CreateInput{
		RecordID:      recordID,
		Corrected:     evv.CorrectedData{ClockOutAt: &newOut},
		ChangeSummary: "clock-out corrected from 13:00 to 14:00",
		ReasonCode:    "ClockOutMissed",
		Justification: "caregiver left without clocking out",
		RequestedBy:   "supervisor-1",
	}
}

func TestCreate_OpensPendingRequest(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")

	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)
	require.Equal(t, evv.VMURPending, req.Status)
	require.Equal(t, rec.ID, req.RecordID)
	require.NotNil(t, req.OriginalSnapshot)
	require.Equal(t, rec.IntegrityHash, req.OriginalSnapshot.IntegrityHash)
	require.True(t, req.ExpiresAt.Equal(req.CreatedAt.Add(evv.VMURTTL)))
}

func TestCreate_WindowBoundsInclusive(t *testing.T) {
	cases := []struct {
		name string
		age  time.Duration
		ok   bool
	}{
		{"day 29 too early", 29 * 24 * time.Hour, false},
		{"day 30 floor", 30 * 24 * time.Hour, true},
		{"day 60 ceiling", 60 * 24 * time.Hour, true},
		{"day 61 too late", 61 * 24 * time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, st, _, cur := newTestWorkflow(t)
			rec := seedLockedRecord(t, st, "TX")
			*cur = serviceDay.Add(tc.age)

			_, err := w.Create(context.Background(), createInput(rec.ID))
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.True(t, evverrors.IsInputValidation(err))
			}
		})
	}
}

func TestCreate_NonGovernedStateRejected(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "FL")

	_, err := w.Create(context.Background(), createInput(rec.ID))
	require.Error(t, err)
	require.True(t, evverrors.IsInputValidation(err))
}

func TestCreate_ReasonCodeMustBePermitted(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")

	in := createInput(rec.ID)
	in.ReasonCode = "JustBecause"
	_, err := w.Create(context.Background(), in)
	require.Error(t, err)
	require.True(t, evverrors.IsInputValidation(err))
}

func TestCreate_OpenVisitCannotUnlock(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")
	_, err := st.UpdateRecord(context.Background(), rec.ID, func(r *evv.Record) error {
		r.Status = evv.StatusPending
		return nil
	})
	require.NoError(t, err)

	_, err = w.Create(context.Background(), createInput(rec.ID))
	require.Error(t, err)
	require.True(t, evverrors.IsInvalidTransition(err))
}

func TestApprove_ForksAndSubmits(t *testing.T) {
	w, st, sub, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")

	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	got, err := w.Approve(context.Background(), req.ID, "admin-1", "verified with the client")
	require.NoError(t, err)
	require.Equal(t, evv.VMURApproved, got.Status)
	require.Equal(t, "admin-1", got.ApprovedBy)
	require.NotEmpty(t, got.AmendedRecordID)
	require.Equal(t, []string{got.AmendedRecordID}, sub.calls)

	// queued, not yet acknowledged; the aggregator's verdict completes it
	require.False(t, got.AggregatorAcknowledged)

	fork, err := st.GetRecord(context.Background(), got.AmendedRecordID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, fork.Amends)
	require.Equal(t, 5*time.Hour, fork.TotalDuration)

	orig, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusAmended, orig.Status)
}

func TestApprove_RequesterCannotSelfApprove(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")
	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	_, err = w.Approve(context.Background(), req.ID, "supervisor-1", "")
	require.Error(t, err)
	require.True(t, evverrors.IsPermissionDenied(err))

	_, err = w.Approve(context.Background(), req.ID, "", "")
	require.Error(t, err)
	require.True(t, evverrors.IsPermissionDenied(err))
}

func TestApprove_ExpiredRequestSettlesAsExpired(t *testing.T) {
	w, st, _, cur := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")
	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	*cur = cur.Add(evv.VMURTTL + time.Hour)
	_, err = w.Approve(context.Background(), req.ID, "admin-1", "")
	require.Error(t, err)
	require.True(t, evverrors.IsInvalidTransition(err))

	got, err := st.GetVMUR(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, evv.VMURExpired, got.Status)
}

func TestApprove_SubmitterFailureDoesNotBlockApproval(t *testing.T) {
	w, st, sub, _ := newTestWorkflow(t)
	sub.err = errors.New("aggregator unreachable")
	rec := seedLockedRecord(t, st, "TX")
	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	got, err := w.Approve(context.Background(), req.ID, "admin-1", "")
	require.NoError(t, err)
	require.Equal(t, evv.VMURApproved, got.Status)
	require.False(t, got.AggregatorAcknowledged)
}

func TestNoteAcknowledgment_CompletesApprovedRequest(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")
	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	got, err := w.Approve(context.Background(), req.ID, "admin-1", "")
	require.NoError(t, err)
	require.False(t, got.AggregatorAcknowledged)

	// acknowledgments for unrelated records are ignored
	w.NoteAcknowledgment(context.Background(), "evv-unrelated", true)
	after, err := st.GetVMUR(context.Background(), req.ID)
	require.NoError(t, err)
	require.False(t, after.AggregatorAcknowledged)

	// a rejected verdict does not complete the request
	w.NoteAcknowledgment(context.Background(), got.AmendedRecordID, false)
	after, err = st.GetVMUR(context.Background(), req.ID)
	require.NoError(t, err)
	require.False(t, after.AggregatorAcknowledged)

	w.NoteAcknowledgment(context.Background(), got.AmendedRecordID, true)
	after, err = st.GetVMUR(context.Background(), req.ID)
	require.NoError(t, err)
	require.True(t, after.AggregatorAcknowledged)
}

func TestDeny_RequiresWrittenReason(t *testing.T) {
	w, st, _, _ := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")
	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	_, err = w.Deny(context.Background(), req.ID, "admin-1", "")
	require.Error(t, err)
	require.True(t, evverrors.IsInputValidation(err))

	got, err := w.Deny(context.Background(), req.ID, "admin-1", "correction not supported by the care plan")
	require.NoError(t, err)
	require.Equal(t, evv.VMURDenied, got.Status)
	require.Equal(t, "correction not supported by the care plan", got.DenialReason)

	// the record stays locked and untouched
	rec2, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusComplete, rec2.Status)

	// settled requests cannot flip
	_, err = w.Approve(context.Background(), req.ID, "admin-2", "")
	require.Error(t, err)
	require.True(t, evverrors.IsInvalidTransition(err))
}

func TestExpireSweep_SettlesOnlyStalePending(t *testing.T) {
	w, st, _, cur := newTestWorkflow(t)
	rec := seedLockedRecord(t, st, "TX")
	req, err := w.Create(context.Background(), createInput(rec.ID))
	require.NoError(t, err)

	n, err := w.ExpireSweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	*cur = cur.Add(evv.VMURTTL + time.Hour)
	n, err = w.ExpireSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := st.GetVMUR(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, evv.VMURExpired, got.Status)
}
