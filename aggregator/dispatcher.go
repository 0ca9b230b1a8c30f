package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/store"
	"github.com/veritas-care/evv/verifier"
)

// RetryScheduler abstracts where retry times are persisted. The redis queue
// implements it; nil means the store's submission rows alone drive retries.
type RetryScheduler interface {
	Schedule(ctx context.Context, recordID string, at time.Time) error
	Remove(ctx context.Context, recordID string) error
	// Due pops record ids whose scheduled time has passed; the retry worker
	// submits each popped id.
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
}

// Dispatcher owns the per-record submission state machine. Submissions for a
// single record are serialized by a CAS into InFlight; only one attempt can
// hold the state at a time.
type Dispatcher struct {
	log      *zap.SugaredLogger
	m        metrics.Metricer
	store    store.Store
	registry *Registry
	policies *policy.Table
	sched    RetryScheduler
	ack      AckListener

	now func() time.Time
}

func NewDispatcher(
	log *zap.SugaredLogger,
	m metrics.Metricer,
	st store.Store,
	registry *Registry,
	policies *policy.Table,
	sched RetryScheduler,
) *Dispatcher {
	return &Dispatcher{
		log:      log,
		m:        m,
		store:    st,
		registry: registry,
		policies: policies,
		sched:    sched,
		now:      time.Now,
	}
}

// Submit runs one submission attempt for the record. Callable from the API
// (first submit) and from the retry worker (subsequent attempts); both paths
// funnel through the same CAS so concurrent submits collapse to one.
func (d *Dispatcher) Submit(ctx context.Context, recordID string) (SubmissionResult, error) {
	rec, err := d.store.GetRecord(ctx, recordID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if rec.Status != evv.StatusComplete && rec.Status != evv.StatusSubmitted {
		return SubmissionResult{}, evverrors.New(evverrors.KindInvalidTransition,
			"record %s is %s; only Complete records submit", recordID, rec.Status)
	}

	// integrity gate: tampered records never reach the aggregator
	if err := verifier.VerifyIntegrity(rec); err != nil {
		d.m.RecordTamperDetected()
		d.quarantine(ctx, rec, err)
		return SubmissionResult{}, err
	}

	pol := d.policies.Lookup(rec.StateCode)
	client, err := d.registry.Client(pol.Aggregator)
	if err != nil {
		return SubmissionResult{}, err
	}

	sub, err := d.store.CASSubmissionState(ctx, recordID,
		[]evv.SubmissionState{evv.SubmissionNotSubmitted, evv.SubmissionAwaitingRetry},
		evv.SubmissionInFlight)
	if err != nil {
		return SubmissionResult{}, err
	}
	sub.TenantID = rec.TenantID

	if v := client.Validate(rec, pol); !v.OK {
		// validation rejection is terminal; no wire call happened
		res := SubmissionResult{
			OK:           false,
			ErrorCode:    "VALIDATION",
			ErrorMessage: strings.Join(v.Errors, "; "),
		}
		d.settleTerminal(ctx, rec, sub, res)
		d.m.RecordSubmission(pol.Aggregator.String(), "validation_rejected")
		return res, evverrors.New(evverrors.KindAggregatorTerminal,
			"record %s failed %s validation: %s", recordID, pol.Aggregator, res.ErrorMessage)
	}

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	res, err := client.Submit(callCtx, rec, pol)
	if err != nil {
		if evverrors.IsRetriable(err) || evverrors.IsAuthentication(err) {
			d.scheduleRetry(ctx, rec, sub, pol, SubmissionResult{
				ErrorCode:    evverrors.KindOf(err).String(),
				ErrorMessage: err.Error(),
				Retriable:    true,
			})
			return SubmissionResult{Retriable: true, ErrorMessage: err.Error()}, err
		}
		// programming error: release the in-flight claim and surface
		_, _ = d.store.CASSubmissionState(ctx, recordID,
			[]evv.SubmissionState{evv.SubmissionInFlight}, evv.SubmissionNotSubmitted)
		return SubmissionResult{}, err
	}

	switch {
	case res.OK:
		d.settleSubmitted(ctx, rec, sub, res)
		d.m.RecordSubmission(pol.Aggregator.String(), "submitted")
	case res.Retriable:
		d.scheduleRetry(ctx, rec, sub, pol, res)
	default:
		d.settleTerminal(ctx, rec, sub, res)
		d.m.RecordSubmission(pol.Aggregator.String(), "rejected")
	}
	return res, nil
}

// settleSubmitted persists the successful attempt and advances the EVV
// record to Submitted.
func (d *Dispatcher) settleSubmitted(ctx context.Context, rec *evv.Record, sub *evv.Submission, res SubmissionResult) {
	now := d.now().UTC()

	sub.State = evv.SubmissionSubmitted
	sub.Attempts++
	sub.NextAttemptAt = nil
	sub.InFlightSince = nil
	sub.SubmissionID = res.SubmissionID
	sub.ConfirmationID = res.ConfirmationID
	sub.LastErrorCode = ""
	sub.LastError = ""
	if err := d.store.PutSubmission(ctx, sub); err != nil {
		d.log.Errorw("persisting submission state", "record", rec.ID, "err", err)
	}

	if d.sched != nil {
		_ = d.sched.Remove(ctx, rec.ID)
	}

	_, err := d.store.UpdateRecord(ctx, rec.ID, func(r *evv.Record) error {
		if r.Status != evv.StatusComplete {
			return nil // already advanced by a concurrent path
		}
		r.Status = evv.StatusSubmitted
		r.SubmittedAt = &now
		r.ConfirmationID = res.ConfirmationID
		return nil
	})
	if err != nil {
		d.log.Errorw("advancing record to Submitted", "record", rec.ID, "err", err)
	}
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, rec *evv.Record, sub *evv.Submission, pol policy.StatePolicy, res SubmissionResult) {
	sub.Attempts++
	sub.LastErrorCode = res.ErrorCode
	sub.LastError = res.ErrorMessage

	if sub.Attempts >= MaxAttempts {
		d.log.Warnw("submission attempt budget exhausted", "record", rec.ID, "attempts", sub.Attempts)
		d.settleTerminal(ctx, rec, sub, res)
		d.m.RecordSubmission(pol.Aggregator.String(), "exhausted")
		return
	}

	delay := NextBackoff(sub.Attempts)
	if res.RetryAfter > delay {
		delay = res.RetryAfter
	}
	next := d.now().UTC().Add(delay)

	sub.State = evv.SubmissionAwaitingRetry
	sub.NextAttemptAt = &next
	sub.InFlightSince = nil
	if err := d.store.PutSubmission(ctx, sub); err != nil {
		d.log.Errorw("persisting retry schedule", "record", rec.ID, "err", err)
	}
	if d.sched != nil {
		if err := d.sched.Schedule(ctx, rec.ID, next); err != nil {
			d.log.Warnw("scheduling retry in queue", "record", rec.ID, "err", err)
		}
	}
	d.m.RecordSubmissionRetry(pol.Aggregator.String())
	d.log.Infow("submission retry scheduled",
		"record", rec.ID, "attempt", sub.Attempts, "next", next, "code", res.ErrorCode)
}

// settleTerminal parks the record in the reviewer queue.
func (d *Dispatcher) settleTerminal(ctx context.Context, rec *evv.Record, sub *evv.Submission, res SubmissionResult) {
	sub.State = evv.SubmissionRejected
	sub.NextAttemptAt = nil
	sub.InFlightSince = nil
	sub.LastErrorCode = res.ErrorCode
	sub.LastError = res.ErrorMessage
	if err := d.store.PutSubmission(ctx, sub); err != nil {
		d.log.Errorw("persisting terminal submission state", "record", rec.ID, "err", err)
	}
	if d.sched != nil {
		_ = d.sched.Remove(ctx, rec.ID)
	}

	task := &evv.ReviewTask{
		ID:        uuid.NewString(),
		TenantID:  rec.TenantID,
		RecordID:  rec.ID,
		Reason:    "aggregator rejection",
		Message:   fmt.Sprintf("%s: %s", res.ErrorCode, res.ErrorMessage),
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.AddReviewTask(ctx, task); err != nil {
		d.log.Errorw("queuing review task", "record", rec.ID, "err", err)
	}
}

func (d *Dispatcher) quarantine(ctx context.Context, rec *evv.Record, cause error) {
	_, err := d.store.UpdateRecord(ctx, rec.ID, func(r *evv.Record) error {
		r.AddFlag(evv.FlagTamperDetected)
		return nil
	})
	if err != nil {
		d.log.Errorw("flagging tampered record", "record", rec.ID, "err", err)
	}

	task := &evv.ReviewTask{
		ID:        uuid.NewString(),
		TenantID:  rec.TenantID,
		RecordID:  rec.ID,
		Reason:    "integrity mismatch",
		Message:   cause.Error(),
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.AddReviewTask(ctx, task); err != nil {
		d.log.Errorw("queuing quarantine review task", "record", rec.ID, "err", err)
	}
}

// AckOutcome ... the payor's asynchronous verdict on a submitted record
type AckOutcome string

const (
	AckApproved AckOutcome = "Approved"
	AckRejected AckOutcome = "Rejected"
	// AckDisputed means the payor received the claim but contests it; the
	// record needs human follow-up, not a retry.
	AckDisputed AckOutcome = "Disputed"
)

// AckListener observes settled acknowledgments. The unlock request workflow
// uses it to complete requests whose amended record was acknowledged.
type AckListener interface {
	NoteAcknowledgment(ctx context.Context, recordID string, approved bool)
}

// WithAckListener attaches the acknowledgment observer.
func (d *Dispatcher) WithAckListener(l AckListener) *Dispatcher {
	d.ack = l
	return d
}

// Acknowledge records the aggregator's asynchronous verdict on a previously
// submitted record.
func (d *Dispatcher) Acknowledge(ctx context.Context, recordID string, outcome AckOutcome, confirmationID, message string) error {
	var target evv.SubmissionState
	var status evv.Status
	switch outcome {
	case AckApproved:
		target, status = evv.SubmissionAcknowledged, evv.StatusApproved
	case AckRejected:
		target, status = evv.SubmissionRejected, evv.StatusRejected
	case AckDisputed:
		target, status = evv.SubmissionAcknowledged, evv.StatusDisputed
	default:
		return evverrors.New(evverrors.KindInputValidation,
			"unknown acknowledgment outcome %q", outcome)
	}

	if _, err := d.store.CASSubmissionState(ctx, recordID,
		[]evv.SubmissionState{evv.SubmissionSubmitted}, target); err != nil {
		return err
	}

	rec, err := d.store.UpdateRecord(ctx, recordID, func(r *evv.Record) error {
		if r.Status != evv.StatusSubmitted {
			return evverrors.New(evverrors.KindInvalidTransition,
				"record %s is %s; acknowledgment expects Submitted", recordID, r.Status)
		}
		r.Status = status
		r.PayorStatus = message
		if confirmationID != "" {
			r.ConfirmationID = confirmationID
		}
		return nil
	})
	if err != nil {
		return err
	}

	if outcome == AckDisputed {
		task := &evv.ReviewTask{
			ID:        uuid.NewString(),
			TenantID:  rec.TenantID,
			RecordID:  rec.ID,
			Reason:    "payor dispute",
			Message:   message,
			CreatedAt: d.now().UTC(),
		}
		if err := d.store.AddReviewTask(ctx, task); err != nil {
			d.log.Errorw("queuing dispute review task", "record", rec.ID, "err", err)
		}
	}

	if d.ack != nil {
		d.ack.NoteAcknowledgment(ctx, recordID, outcome == AckApproved)
	}
	return nil
}
