package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/logging"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/store/memstore"
)

// fakeClient stands in for an aggregator platform; scripted per test.
type fakeClient struct {
	typ      common.AggregatorType
	validate ValidationResult
	result   SubmissionResult
	err      error
	calls    int
}

func (f *fakeClient) Type() common.AggregatorType { return f.typ }

func (f *fakeClient) Validate(*evv.Record, policy.StatePolicy) ValidationResult {
	return f.validate
}

func (f *fakeClient) Submit(context.Context, *evv.Record, policy.StatePolicy) (SubmissionResult, error) {
	f.calls++
	return f.result, f.err
}

func newTestDispatcher(t *testing.T, client *fakeClient) (*Dispatcher, *memstore.MemStore) {
	t.Helper()
	st := memstore.New()
	d := NewDispatcher(
		logging.NewTestLogger(),
		metrics.NoopMetrics,
		st,
		NewRegistryWithClients(client),
		policy.NewTable(),
		nil,
	)
	return d, st
}

func TestDispatcher_SuccessAdvancesRecordToSubmitted(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{OK: true, SubmissionID: "sub-1", ConfirmationID: "conf-1"},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	res, err := d.Submit(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 1, client.calls)

	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)
	require.Equal(t, "conf-1", got.ConfirmationID)

	sub, err := st.GetSubmission(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionSubmitted, sub.State)
	require.Equal(t, 1, sub.Attempts)
	require.Nil(t, sub.InFlightSince)
}

func TestDispatcher_RetriableFailureSchedulesRetry(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{Retriable: true, ErrorCode: "TIMEOUT", ErrorMessage: "gateway timeout"},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	res, err := d.Submit(context.Background(), rec.ID)
	require.NoError(t, err)
	require.False(t, res.OK)

	sub, err := st.GetSubmission(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionAwaitingRetry, sub.State)
	require.Equal(t, 1, sub.Attempts)
	require.NotNil(t, sub.NextAttemptAt)
	require.Equal(t, "TIMEOUT", sub.LastErrorCode)

	// the record itself stays Complete until an attempt lands
	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusComplete, got.Status)
}

func TestDispatcher_ExhaustedAttemptsParkInReview(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{Retriable: true, ErrorCode: "TIMEOUT"},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	for i := 0; i < MaxAttempts; i++ {
		_, err := d.Submit(context.Background(), rec.ID)
		require.NoError(t, err)
	}

	sub, err := st.GetSubmission(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionRejected, sub.State)
	require.Equal(t, MaxAttempts, sub.Attempts)
	require.Nil(t, sub.NextAttemptAt)

	tasks, err := st.ListReviewTasks(context.Background(), rec.TenantID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, rec.ID, tasks[0].RecordID)

	// a further submit cannot re-enter the state machine
	_, err = d.Submit(context.Background(), rec.ID)
	require.Error(t, err)
	require.True(t, evverrors.IsConflict(err))
}

func TestDispatcher_ValidationRejectionIsTerminal(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: false, Errors: []string{"member id missing"}},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	_, err := d.Submit(context.Background(), rec.ID)
	require.Error(t, err)
	require.True(t, evverrors.IsTerminal(err))
	require.Zero(t, client.calls, "no wire call on validation rejection")

	sub, err := st.GetSubmission(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionRejected, sub.State)

	tasks, err := st.ListReviewTasks(context.Background(), rec.TenantID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestDispatcher_TamperedRecordQuarantined(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{OK: true},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	rec.ClockInAt = rec.ClockInAt.Add(time.Minute) // mutated after sealing
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	_, err := d.Submit(context.Background(), rec.ID)
	require.Error(t, err)
	require.True(t, evverrors.IsTamperDetected(err))
	require.Zero(t, client.calls)

	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Contains(t, got.ComplianceFlags, evv.FlagTamperDetected)

	tasks, err := st.ListReviewTasks(context.Background(), rec.TenantID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "integrity mismatch", tasks[0].Reason)
}

func TestDispatcher_PendingRecordCannotSubmit(t *testing.T) {
	client := &fakeClient{typ: common.HHAeXchangeAggregatorType, validate: ValidationResult{OK: true}}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	rec.Status = evv.StatusPending
	rec.ClockOutAt = nil
	rec.IntegrityHash = ""
	rec.IntegrityChecksum = ""
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	_, err := d.Submit(context.Background(), rec.ID)
	require.Error(t, err)
	require.True(t, evverrors.IsInvalidTransition(err))
}

type fakeAckListener struct {
	recordID string
	approved bool
}

func (f *fakeAckListener) NoteAcknowledgment(_ context.Context, recordID string, approved bool) {
	f.recordID = recordID
	f.approved = approved
}

func TestDispatcher_AcknowledgeApprove(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{OK: true, ConfirmationID: "conf-1"},
	}
	d, st := newTestDispatcher(t, client)
	listener := &fakeAckListener{}
	d.WithAckListener(listener)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))
	_, err := d.Submit(context.Background(), rec.ID)
	require.NoError(t, err)

	require.NoError(t, d.Acknowledge(context.Background(), rec.ID, AckApproved, "conf-2", "accepted"))
	require.Equal(t, rec.ID, listener.recordID)
	require.True(t, listener.approved)

	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusApproved, got.Status)
	require.Equal(t, "conf-2", got.ConfirmationID)
	require.Equal(t, "accepted", got.PayorStatus)

	sub, err := st.GetSubmission(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionAcknowledged, sub.State)
}

func TestDispatcher_AcknowledgeReject(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{OK: true},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))
	_, err := d.Submit(context.Background(), rec.ID)
	require.NoError(t, err)

	require.NoError(t, d.Acknowledge(context.Background(), rec.ID, AckRejected, "", "units exceed authorization"))

	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusRejected, got.Status)

	sub, err := st.GetSubmission(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.SubmissionRejected, sub.State)
}

func TestDispatcher_AcknowledgeDisputeParksInReview(t *testing.T) {
	client := &fakeClient{
		typ:      common.HHAeXchangeAggregatorType,
		validate: ValidationResult{OK: true},
		result:   SubmissionResult{OK: true},
	}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))
	_, err := d.Submit(context.Background(), rec.ID)
	require.NoError(t, err)

	require.NoError(t, d.Acknowledge(context.Background(), rec.ID, AckDisputed, "", "units contested"))

	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, evv.StatusDisputed, got.Status)
	require.Equal(t, "units contested", got.PayorStatus)

	tasks, err := st.ListReviewTasks(context.Background(), rec.TenantID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "payor dispute", tasks[0].Reason)
}

func TestDispatcher_AcknowledgeRequiresSubmitted(t *testing.T) {
	client := &fakeClient{typ: common.HHAeXchangeAggregatorType, validate: ValidationResult{OK: true}}
	d, st := newTestDispatcher(t, client)

	rec := completeRecord()
	require.NoError(t, st.CreateRecord(context.Background(), rec))

	err := d.Acknowledge(context.Background(), rec.ID, AckApproved, "", "")
	require.Error(t, err)
	require.True(t, evverrors.IsConflict(err))

	// an outcome outside the enum is rejected before any transition
	err = d.Acknowledge(context.Background(), rec.ID, AckOutcome("Maybe"), "", "")
	require.Error(t, err)
	require.True(t, evverrors.IsInputValidation(err))
}
