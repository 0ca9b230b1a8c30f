package vmur

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/engine"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/store"
)

// Submitter hands an approved amendment's fork to the aggregator dispatcher.
type Submitter interface {
	Submit(ctx context.Context, recordID string) error
}

// Workflow implements the Texas Visit Maintenance Unlock Request process:
// locked records in the eligibility window are amended only through an
// approved request, never edited in place.
type Workflow struct {
	log      *zap.SugaredLogger
	m        metrics.Metricer
	store    store.Store
	engine   *engine.Engine
	policies *policy.Table

	// submitter queues the amended record for aggregator re-submission after
	// approval; nil skips the hand-off (tests, ingestion-only deployments).
	submitter Submitter

	// GovernedStates lists the states whose policy requires the VMUR process
	// for post-lock corrections.
	GovernedStates map[string]bool

	now func() time.Time
}

func New(
	log *zap.SugaredLogger,
	m metrics.Metricer,
	st store.Store,
	eng *engine.Engine,
	policies *policy.Table,
	submitter Submitter,
) *Workflow {
	return &Workflow{
		log:            log,
		m:              m,
		store:          st,
		engine:         eng,
		policies:       policies,
		submitter:      submitter,
		GovernedStates: map[string]bool{"TX": true},
		now:            time.Now,
	}
}

// CreateInput ... a new unlock request
type CreateInput struct {
	RecordID      string            `json:"recordId" validate:"required"`
	Corrected     evv.CorrectedData `json:"corrected"`
	ChangeSummary string            `json:"changeSummary" validate:"required"`
	ReasonCode    string            `json:"reasonCode" validate:"required"`
	Justification string            `json:"justification" validate:"required"`
	RequestedBy   string            `json:"requestedBy" validate:"required"`
}

// Create opens a pending request against a locked record. Eligibility: the
// record's state is VMUR-governed, the record is Complete or Submitted, the
// service date sits inside the 30 to 60 day window (both ends inclusive) and
// the reason code is permitted by the state policy.
func (w *Workflow) Create(ctx context.Context, in CreateInput) (*evv.VMUR, error) {
	rec, err := w.store.GetRecord(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}

	if !w.GovernedStates[rec.StateCode] {
		return nil, evverrors.New(evverrors.KindInputValidation,
			"state %s does not use the unlock request process", rec.StateCode)
	}
	if rec.Status != evv.StatusComplete && rec.Status != evv.StatusSubmitted {
		return nil, evverrors.New(evverrors.KindInvalidTransition,
			"record %s is %s; unlock requests target Complete or Submitted records", rec.ID, rec.Status)
	}

	now := w.now().UTC()
	age := now.Sub(rec.ServiceDate)
	if age < evv.VMURWindowFloor || age > evv.VMURWindowCeiling {
		return nil, evverrors.New(evverrors.KindInputValidation,
			"record %s service date is %.0f days old; unlock window is 30 to 60 days",
			rec.ID, age.Hours()/24)
	}

	pol := w.policies.Lookup(rec.StateCode)
	if !pol.PermitsOverrideReason(in.ReasonCode) {
		return nil, evverrors.New(evverrors.KindInputValidation,
			"reason code %q not permitted in %s", in.ReasonCode, rec.StateCode)
	}

	snapshot := *rec
	req := &evv.VMUR{
		ID:               "vmur-" + uuid.NewString(),
		TenantID:         rec.TenantID,
		RecordID:         rec.ID,
		VisitID:          rec.VisitID,
		OriginalSnapshot: &snapshot,
		Corrected:        in.Corrected,
		ChangeSummary:    in.ChangeSummary,
		ReasonCode:       in.ReasonCode,
		Justification:    in.Justification,
		RequestedBy:      in.RequestedBy,
		Status:           evv.VMURPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(evv.VMURTTL),
	}
	if err := w.store.CreateVMUR(ctx, req); err != nil {
		return nil, err
	}

	w.m.RecordVMUR("created")
	w.log.Infow("unlock request created",
		"vmur", req.ID, "record", rec.ID, "reason", in.ReasonCode, "by", in.RequestedBy)
	return req, nil
}

// Approve forks the amended record and queues it for re-submission. The
// approver must differ from the requester.
func (w *Workflow) Approve(ctx context.Context, id, approvedBy, notes string) (*evv.VMUR, error) {
	req, err := w.store.GetVMUR(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != evv.VMURPending {
		return nil, evverrors.New(evverrors.KindInvalidTransition,
			"request %s is %s; only pending requests approve", id, req.Status)
	}
	if approvedBy == "" || approvedBy == req.RequestedBy {
		return nil, evverrors.New(evverrors.KindPermissionDenied,
			"request %s needs an approver distinct from the requester", id)
	}
	if w.now().UTC().After(req.ExpiresAt) {
		_, _ = w.expire(ctx, id)
		return nil, evverrors.New(evverrors.KindInvalidTransition,
			"request %s expired at %s", id, req.ExpiresAt)
	}

	fork, err := w.engine.Amend(ctx, req.RecordID, req.Corrected, req.ChangeSummary)
	if err != nil {
		return nil, err
	}

	now := w.now().UTC()
	updated, err := w.store.UpdateVMUR(ctx, id, func(v *evv.VMUR) error {
		if v.Status != evv.VMURPending {
			return evverrors.New(evverrors.KindConflict,
				"request %s settled concurrently as %s", id, v.Status)
		}
		v.Status = evv.VMURApproved
		v.ApprovedBy = approvedBy
		v.ApprovalNotes = notes
		v.ApprovedAt = &now
		v.AmendedRecordID = fork.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.submitter != nil {
		if err := w.submitter.Submit(ctx, fork.ID); err != nil {
			// the retry worker picks the submission up; approval stands
			w.log.Warnw("queuing amended record for submission", "record", fork.ID, "err", err)
		}
	}

	w.m.RecordVMUR("approved")
	w.log.Infow("unlock request approved",
		"vmur", id, "fork", fork.ID, "by", approvedBy)
	return updated, nil
}

// NoteAcknowledgment marks an approved request complete once the aggregator
// acknowledges its amended record. Most acknowledgments concern ordinary
// submissions, so an unknown record id is not an error.
func (w *Workflow) NoteAcknowledgment(ctx context.Context, recordID string, approved bool) {
	req, err := w.store.VMURByAmendedRecord(ctx, recordID)
	if err != nil {
		if !evverrors.IsNotFound(err) {
			w.log.Errorw("resolving acknowledged record to unlock request", "record", recordID, "err", err)
		}
		return
	}
	if !approved {
		w.log.Warnw("amended record not accepted by aggregator",
			"vmur", req.ID, "record", recordID)
		return
	}
	if _, err := w.store.UpdateVMUR(ctx, req.ID, func(v *evv.VMUR) error {
		v.AggregatorAcknowledged = true
		return nil
	}); err != nil {
		w.log.Errorw("completing acknowledged unlock request", "vmur", req.ID, "err", err)
		return
	}
	w.log.Infow("unlock request completed", "vmur", req.ID, "record", recordID)
}

// Deny settles the request with a written reason; the record stays locked and
// unchanged.
func (w *Workflow) Deny(ctx context.Context, id, deniedBy, reason string) (*evv.VMUR, error) {
	if reason == "" {
		return nil, evverrors.New(evverrors.KindInputValidation,
			"denial requires a written reason")
	}
	req, err := w.store.UpdateVMUR(ctx, id, func(v *evv.VMUR) error {
		if v.Status != evv.VMURPending {
			return evverrors.New(evverrors.KindInvalidTransition,
				"request %s is %s; only pending requests deny", id, v.Status)
		}
		v.Status = evv.VMURDenied
		v.DenialReason = reason
		v.ApprovedBy = deniedBy
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.m.RecordVMUR("denied")
	w.log.Infow("unlock request denied", "vmur", id, "by", deniedBy)
	return req, nil
}

func (w *Workflow) expire(ctx context.Context, id string) (*evv.VMUR, error) {
	req, err := w.store.UpdateVMUR(ctx, id, func(v *evv.VMUR) error {
		if v.Status != evv.VMURPending {
			return evverrors.New(evverrors.KindInvalidTransition,
				"request %s is %s; only pending requests expire", id, v.Status)
		}
		v.Status = evv.VMURExpired
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.m.RecordVMUR("expired")
	return req, nil
}

// ExpireSweep settles every pending request past its TTL. Returns the number
// expired.
func (w *Workflow) ExpireSweep(ctx context.Context) (int, error) {
	due, err := w.store.ExpiredPending(ctx, w.now().UTC())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range due {
		if _, err := w.expire(ctx, req.ID); err != nil {
			w.log.Warnw("expiring unlock request", "vmur", req.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// RunSweeper loops ExpireSweep until the context is canceled.
func (w *Workflow) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := w.ExpireSweep(ctx); err != nil {
				w.log.Errorw("unlock request expiry sweep", "err", err)
			} else if n > 0 {
				w.log.Infow("expired stale unlock requests", "count", n)
			}
		case <-ctx.Done():
			w.log.Debug("terminating unlock request sweeper")
			return
		}
	}
}
