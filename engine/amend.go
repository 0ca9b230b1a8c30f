package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
)

// Amend forks a corrected record from a locked original. The original is
// never mutated beyond its status flip to Amended; the fork carries the
// corrections, a fresh integrity seal and a back link through Amends.
//
// Corrections that would break the record's structural invariants (clock-out
// before clock-in, pauses pushed outside the visit window) are rejected.
func (e *Engine) Amend(ctx context.Context, recordID string, corrected evv.CorrectedData, reason string) (*evv.Record, error) {
	orig, err := e.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.AtLeastComplete() || orig.Status == evv.StatusAmended || orig.Status == evv.StatusVoided {
		return nil, evverrors.New(evverrors.KindInvalidTransition,
			"record %s is %s; only locked records amend", recordID, orig.Status)
	}

	now := e.now().UTC()
	fork := *orig
	fork.ID = "evv-amend-" + uuid.NewString()
	fork.Amends = orig.ID
	fork.Status = evv.StatusComplete
	fork.SubmittedAt = nil
	fork.ConfirmationID = ""
	fork.PayorStatus = ""
	fork.CreatedAt = now
	fork.UpdatedAt = now
	fork.Version = 0

	fork.Pauses = append([]evv.PauseEvent(nil), orig.Pauses...)
	fork.Exceptions = append([]evv.ExceptionEvent(nil), orig.Exceptions...)
	fork.ComplianceFlags = append([]evv.ComplianceFlag(nil), orig.ComplianceFlags...)
	fork.MidVisitChecks = append([]evv.Verification(nil), orig.MidVisitChecks...)

	if corrected.ClockInAt != nil {
		fork.ClockInAt = corrected.ClockInAt.UTC()
	}
	if corrected.ClockOutAt != nil {
		out := corrected.ClockOutAt.UTC()
		fork.ClockOutAt = &out
	}
	if corrected.ServiceTypeCode != "" {
		fork.ServiceTypeCode = corrected.ServiceTypeCode
	}
	if len(corrected.StateData) > 0 {
		merged := make(map[string]string, len(orig.StateData)+len(corrected.StateData))
		for k, v := range orig.StateData {
			merged[k] = v
		}
		for k, v := range corrected.StateData {
			merged[k] = v
		}
		fork.StateData = merged
	}

	if fork.ClockOutAt != nil {
		fork.TotalDuration = fork.ClockOutAt.Sub(fork.ClockInAt) - fork.UnpaidPauseTotal()
	}

	evv.SealIntegrity(&fork)
	if err := fork.CheckInvariants(); err != nil {
		return nil, evverrors.Wrap(evverrors.KindInputValidation, err)
	}

	if err := e.store.CreateRecord(ctx, &fork); err != nil {
		return nil, err
	}
	if _, err := e.store.UpdateRecord(ctx, orig.ID, func(r *evv.Record) error {
		r.Status = evv.StatusAmended
		return nil
	}); err != nil {
		return nil, err
	}

	e.log.Infow("record amended", "original", orig.ID, "fork", fork.ID, "reason", reason)
	return &fork, nil
}
