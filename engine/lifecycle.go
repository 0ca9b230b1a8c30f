package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
)

// ClockIn opens a new EVV record for the visit. The record id is derived from
// the event identity, so a retried clock-in (offline replay, double tap)
// collapses onto the already created record instead of duplicating it.
func (e *Engine) ClockIn(ctx context.Context, in ClockEventInput) (*evv.Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	pol := e.policies.Lookup(in.StateCode)

	id := evv.DeterministicRecordID(
		in.TenantID, in.VisitID, in.CaregiverID,
		in.Verification.Device.DeviceID, in.Verification.DeviceTimestamp)

	if existing, err := e.store.GetRecord(ctx, id); err == nil {
		return existing, nil
	} else if !evverrors.IsNotFound(err) {
		return nil, err
	}

	// One live record per visit. A different clock-in for an already open
	// visit is a caller error, not a retry.
	if live, err := e.store.GetRecordByVisit(ctx, in.VisitID); err == nil {
		return nil, evverrors.New(evverrors.KindConflict,
			"visit %s already has record %s", in.VisitID, live.ID)
	} else if !evverrors.IsNotFound(err) {
		return nil, err
	}

	eval, err := e.evaluate(in.ServiceAddress, pol, in.Verification, nil, in.ServiceTypeCode, now)
	if err != nil {
		return nil, err
	}

	rec := &evv.Record{
		ID:          id,
		VisitID:     in.VisitID,
		TenantID:    in.TenantID,
		BranchID:    in.BranchID,
		ClientID:    in.ClientID,
		CaregiverID: in.CaregiverID,

		ServiceTypeCode: in.ServiceTypeCode,
		ServiceAddress:  in.ServiceAddress,
		ServiceDate:     now.Truncate(24 * time.Hour),
		StateCode:       in.StateCode,
		StateData:       in.StateData,

		ClockInAt:           now,
		ClockInVerification: &eval.verification,

		Status:    evv.StatusPending,
		Level:     eval.level,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, f := range eval.flags {
		rec.AddFlag(f)
	}
	rec.Exceptions = append(rec.Exceptions, eval.exceptions...)

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		if evverrors.IsConflict(err) {
			// lost the race against a concurrent retry of the same event; a
			// conflict on the visit itself (different event identity) surfaces
			if existing, gerr := e.store.GetRecord(ctx, id); gerr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	e.appendEntry(ctx, rec, evv.EntryClockIn, in, now)
	e.observeGeofence(ctx, rec.ClientID, in.Verification.AccuracyMeters,
		eval.verification.Geofence.WithinGeofence)

	e.log.Infow("clock-in recorded",
		"record", rec.ID, "visit", rec.VisitID, "state", rec.StateCode, "level", rec.Level)
	return rec, nil
}

// Pause opens an unpaid or paid break. Pauses strictly alternate with
// resumes; a second pause while one is open is rejected.
func (e *Engine) Pause(ctx context.Context, recordID, reason string, unpaid bool) (*evv.Record, error) {
	now := e.now().UTC()
	return e.store.UpdateRecord(ctx, recordID, func(r *evv.Record) error {
		if r.Status != evv.StatusPending {
			return evverrors.New(evverrors.KindLocked,
				"record %s is %s; pauses apply to open visits only", recordID, r.Status)
		}
		if r.OpenPause() >= 0 {
			return evverrors.New(evverrors.KindInvalidTransition,
				"record %s already has an open pause", recordID)
		}
		if !now.After(r.ClockInAt) {
			return evverrors.New(evverrors.KindInvalidTransition,
				"pause instant not after clock-in")
		}
		r.Pauses = append(r.Pauses, evv.PauseEvent{
			PausedAt: now,
			Reason:   reason,
			Unpaid:   unpaid,
		})
		return nil
	})
}

// Resume closes the open pause.
func (e *Engine) Resume(ctx context.Context, recordID string) (*evv.Record, error) {
	now := e.now().UTC()
	return e.store.UpdateRecord(ctx, recordID, func(r *evv.Record) error {
		if r.Status != evv.StatusPending {
			return evverrors.New(evverrors.KindLocked,
				"record %s is %s; resumes apply to open visits only", recordID, r.Status)
		}
		i := r.OpenPause()
		if i < 0 {
			return evverrors.New(evverrors.KindInvalidTransition,
				"record %s has no open pause to resume", recordID)
		}
		if !now.After(r.Pauses[i].PausedAt) {
			return evverrors.New(evverrors.KindInvalidTransition,
				"resume instant not after pause")
		}
		r.Pauses[i].ResumedAt = now
		return nil
	})
}

// CheckIn appends a mid-visit verification. Fraud signals are evaluated
// against the most recent prior check of the same visit.
func (e *Engine) CheckIn(ctx context.Context, recordID string, v evv.Verification) (*evv.Record, error) {
	now := e.now().UTC()
	var within bool
	rec, err := e.store.UpdateRecord(ctx, recordID, func(r *evv.Record) error {
		if r.Status != evv.StatusPending {
			return evverrors.New(evverrors.KindLocked,
				"record %s is %s; mid-visit checks apply to open visits only", recordID, r.Status)
		}
		pol := e.policies.Lookup(r.StateCode)
		eval, err := e.evaluate(r.ServiceAddress, pol, v, lastVerification(r), r.ServiceTypeCode, now)
		if err != nil {
			return err
		}
		r.MidVisitChecks = append(r.MidVisitChecks, eval.verification)
		for _, f := range eval.flags {
			r.AddFlag(f)
		}
		r.Exceptions = append(r.Exceptions, eval.exceptions...)
		r.Level = weakerLevel(r.Level, eval.level)
		within = eval.verification.Geofence.WithinGeofence
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.observeGeofence(ctx, rec.ClientID, v.AccuracyMeters, within)
	return rec, nil
}

// ClockOutInput ... clock-out verification plus the optional attestations
type ClockOutInput struct {
	Verification         evv.Verification
	CaregiverAttestation *evv.Attestation
	ClientAttestation    *evv.Attestation
	OfflineCapture       bool
}

// ClockOut closes the visit and seals the record. An unresolved pause is
// force-closed at the clock-out instant and flagged rather than rejecting the
// event; a caregiver forgetting to resume must still be able to clock out.
func (e *Engine) ClockOut(ctx context.Context, recordID string, in ClockOutInput) (*evv.Record, error) {
	now := e.now().UTC()
	var within bool
	rec, err := e.store.UpdateRecord(ctx, recordID, func(r *evv.Record) error {
		if r.Status.AtLeastComplete() {
			return evverrors.New(evverrors.KindLocked,
				"record %s is %s; already clocked out", recordID, r.Status)
		}
		if r.Status != evv.StatusPending {
			return evverrors.New(evverrors.KindInvalidTransition,
				"record %s is %s; cannot clock out", recordID, r.Status)
		}
		if !now.After(r.ClockInAt) {
			return evverrors.New(evverrors.KindInvalidTransition,
				"clock-out instant not after clock-in")
		}

		if i := r.OpenPause(); i >= 0 {
			r.Pauses[i].ResumedAt = now
			r.AddFlag(evv.FlagUnresolvedPause)
			r.Exceptions = append(r.Exceptions, evv.ExceptionEvent{
				When:        now,
				Kind:        evv.FlagUnresolvedPause,
				Severity:    evv.SeverityWarning,
				Description: "pause never resumed; closed at clock-out",
			})
		}

		pol := e.policies.Lookup(r.StateCode)
		eval, err := e.evaluate(r.ServiceAddress, pol, in.Verification, r.ClockInVerification, r.ServiceTypeCode, now)
		if err != nil {
			return err
		}
		r.ClockOutAt = &now
		r.ClockOutVerification = &eval.verification
		for _, f := range eval.flags {
			r.AddFlag(f)
		}
		r.Exceptions = append(r.Exceptions, eval.exceptions...)
		r.Level = weakerLevel(r.Level, eval.level)

		r.TotalDuration = now.Sub(r.ClockInAt) - r.UnpaidPauseTotal()
		r.CaregiverAttestation = in.CaregiverAttestation
		r.ClientAttestation = in.ClientAttestation

		r.Status = evv.StatusComplete
		evv.SealIntegrity(r)
		within = eval.verification.Geofence.WithinGeofence
		return r.CheckInvariants()
	})
	if err != nil {
		return nil, err
	}
	e.observeGeofence(ctx, rec.ClientID, in.Verification.AccuracyMeters, within)

	e.log.Infow("visit completed",
		"record", rec.ID, "visit", rec.VisitID, "duration", rec.TotalDuration,
		"level", rec.Level, "flags", rec.ComplianceFlags)
	return rec, nil
}

// lastVerification returns the latest check of the visit for speed analysis.
func lastVerification(r *evv.Record) *evv.Verification {
	if n := len(r.MidVisitChecks); n > 0 {
		return &r.MidVisitChecks[n-1]
	}
	return r.ClockInVerification
}

// appendEntry records the raw clock event in the append-only history. Failures
// are logged, not surfaced; the record itself is the source of truth.
func (e *Engine) appendEntry(ctx context.Context, r *evv.Record, kind evv.EntryKind, in ClockEventInput, now time.Time) {
	entry := &evv.TimeEntry{
		ID:              uuid.NewString(),
		TenantID:        r.TenantID,
		VisitID:         r.VisitID,
		CaregiverID:     r.CaregiverID,
		Kind:            kind,
		DeviceTimestamp: in.Verification.DeviceTimestamp,
		ReceivedAt:      now,
		Verification:    in.Verification,
		DeviceID:        in.Verification.Device.DeviceID,
		Device:          in.Verification.Device,
		OfflineCapture:  in.OfflineCapture,
	}
	if err := e.store.AppendEntry(ctx, entry); err != nil {
		e.log.Errorw("appending time entry", "record", r.ID, "err", err)
	}
}

// observeGeofence folds one evaluation into the client's calibration counters.
// Clients without a stored geofence row are skipped; counter write failures
// are logged, not surfaced.
func (e *Engine) observeGeofence(ctx context.Context, clientID string, accuracyMeters float64, within bool) {
	g, err := e.store.GetGeofence(ctx, clientID)
	if err != nil {
		if !evverrors.IsNotFound(err) {
			e.log.Errorw("loading geofence counters", "client", clientID, "err", err)
		}
		return
	}
	g.Observe(accuracyMeters, within)
	if err := e.store.PutGeofence(ctx, g); err != nil {
		e.log.Errorw("updating geofence counters", "client", clientID, "err", err)
	}
}
