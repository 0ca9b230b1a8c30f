package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/engine"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/store"
)

// Syncer reconciles offline-captured clock events pushed by mobile devices
// with the authoritative records. Pushes are idempotent: replays of a batch
// (or of single entries across batches) collapse on the idempotency key.
type Syncer struct {
	log    *zap.SugaredLogger
	m      metrics.Metricer
	store  store.Store
	engine *engine.Engine

	now func() time.Time
}

func New(log *zap.SugaredLogger, m metrics.Metricer, st store.Store, eng *engine.Engine) *Syncer {
	return &Syncer{
		log:    log,
		m:      m,
		store:  st,
		engine: eng,
		now:    time.Now,
	}
}

// Change is one offline-captured clock event inside a push batch.
type Change struct {
	// EntityID is the client-generated id of the captured event; together with
	// the device id and timestamp it makes the change idempotent.
	EntityID  string        `json:"entityId" validate:"required"`
	Operation evv.EntryKind `json:"operation" validate:"required"`

	// ClientTimestamp orders changes inside the batch; Sequence breaks ties
	// between events captured in the same instant.
	ClientTimestamp time.Time `json:"clientTimestamp" validate:"required"`
	Sequence        int       `json:"sequence"`

	// RecordID targets an existing record for everything but a clock-in.
	RecordID string `json:"recordId,omitempty"`

	ClockIn      *engine.ClockEventInput `json:"clockIn,omitempty"`
	ClockOut     *engine.ClockOutInput   `json:"clockOut,omitempty"`
	PauseReason  string                  `json:"pauseReason,omitempty"`
	PauseUnpaid  bool                    `json:"pauseUnpaid,omitempty"`
	Verification *evv.Verification       `json:"verification,omitempty"`
}

// ChangeResult reports the per-change outcome. One bad change never fails the
// batch; the device marks rejected entries for review and moves on.
type ChangeResult struct {
	EntityID string         `json:"entityId"`
	Status   evv.SyncStatus `json:"status"`
	RecordID string         `json:"recordId,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}

// PushResult ... whole-batch outcome returned to the device
type PushResult struct {
	BatchID  string         `json:"batchId"`
	Results  []ChangeResult `json:"results"`
	Applied  int            `json:"applied"`
	Failed   int            `json:"failed"`
	ServerAt time.Time      `json:"serverAt"`
}

// idempotencyKey commits to the change identity and payload. The same change
// replayed yields the same key; an altered payload under a reused entity id
// yields a different key and is applied (or rejected) on its own merits.
func idempotencyKey(deviceID string, c Change) string {
	payload, _ := json.Marshal(c)
	payloadSum := sha256.Sum256(payload)
	sum := sha256.Sum256([]byte(strings.Join([]string{
		deviceID,
		c.EntityID,
		c.ClientTimestamp.UTC().Format(time.RFC3339Nano),
		string(c.Operation),
		hex.EncodeToString(payloadSum[:]),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Push applies an offline batch. Changes are replayed in client-timestamp
// order with the in-batch sequence as tie-break, inside one store batch so a
// reader never observes half a push.
func (s *Syncer) Push(ctx context.Context, userID, deviceID, batchID string, changes []Change) (*PushResult, error) {
	if deviceID == "" {
		return nil, evverrors.New(evverrors.KindInputValidation, "push requires a device id")
	}

	ordered := append([]Change(nil), changes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ClientTimestamp.Equal(ordered[j].ClientTimestamp) {
			return ordered[i].ClientTimestamp.Before(ordered[j].ClientTimestamp)
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	res := &PushResult{BatchID: batchID}

	err := s.store.WithBatch(ctx, func(ctx context.Context) error {
		for _, c := range ordered {
			r := s.applyChange(ctx, deviceID, c)
			if r.Status == evv.SyncApplied {
				res.Applied++
			} else {
				res.Failed++
			}
			res.Results = append(res.Results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.ServerAt = s.now().UTC()
	s.m.RecordSyncPush(res.Applied, res.Failed)
	s.touchDevice(ctx, userID, deviceID)

	s.log.Infow("sync push reconciled",
		"device", deviceID, "batch", batchID, "applied", res.Applied, "failed", res.Failed)
	return res, nil
}

func (s *Syncer) applyChange(ctx context.Context, deviceID string, c Change) ChangeResult {
	out := ChangeResult{EntityID: c.EntityID}

	key := idempotencyKey(deviceID, c)
	seen, err := s.store.SeenIdempotencyKey(ctx, key)
	if err != nil {
		out.Status = evv.SyncRejected
		out.Detail = err.Error()
		return out
	}
	if seen {
		// replay of an already applied change; report success without
		// re-executing
		out.Status = evv.SyncApplied
		out.Detail = "duplicate"
		return out
	}

	rec, err := s.execute(ctx, c)
	switch {
	case err == nil:
		out.Status = evv.SyncApplied
		if rec != nil {
			out.RecordID = rec.ID
		}
		// mark only after the apply lands; a failed change stays unmarked so
		// the device's replay retries it instead of losing it to dedupe
		if err := s.store.MarkIdempotencyKey(ctx, key); err != nil {
			s.log.Warnw("marking idempotency key", "entity", c.EntityID, "err", err)
		}
	case evverrors.IsConflict(err), evverrors.IsLocked(err), evverrors.IsInvalidTransition(err):
		// server state wins; the device discards its local copy
		out.Status = evv.SyncConflict
		out.Detail = err.Error()
	default:
		out.Status = evv.SyncRejected
		out.Detail = err.Error()
	}
	return out
}

func (s *Syncer) execute(ctx context.Context, c Change) (*evv.Record, error) {
	switch c.Operation {
	case evv.EntryClockIn:
		if c.ClockIn == nil {
			return nil, evverrors.New(evverrors.KindInputValidation,
				"change %s: clock-in payload missing", c.EntityID)
		}
		in := *c.ClockIn
		in.OfflineCapture = true
		return s.engine.ClockIn(ctx, in)
	case evv.EntryClockOut:
		if c.ClockOut == nil || c.RecordID == "" {
			return nil, evverrors.New(evverrors.KindInputValidation,
				"change %s: clock-out payload or record id missing", c.EntityID)
		}
		in := *c.ClockOut
		in.OfflineCapture = true
		return s.engine.ClockOut(ctx, c.RecordID, in)
	case evv.EntryPause:
		if c.RecordID == "" {
			return nil, evverrors.New(evverrors.KindInputValidation,
				"change %s: record id missing", c.EntityID)
		}
		return s.engine.Pause(ctx, c.RecordID, c.PauseReason, c.PauseUnpaid)
	case evv.EntryResume:
		if c.RecordID == "" {
			return nil, evverrors.New(evverrors.KindInputValidation,
				"change %s: record id missing", c.EntityID)
		}
		return s.engine.Resume(ctx, c.RecordID)
	case evv.EntryCheckIn:
		if c.Verification == nil || c.RecordID == "" {
			return nil, evverrors.New(evverrors.KindInputValidation,
				"change %s: verification or record id missing", c.EntityID)
		}
		return s.engine.CheckIn(ctx, c.RecordID, *c.Verification)
	default:
		return nil, evverrors.New(evverrors.KindInputValidation,
			"change %s: unknown operation %q", c.EntityID, c.Operation)
	}
}

// PullResult ... server-side changes since the device's cursor
type PullResult struct {
	Entries  []*evv.TimeEntry `json:"entries"`
	ServerAt time.Time        `json:"serverAt"`
}

// Pull returns the caregiver's entries received after lastPulledAt. The
// returned ServerAt is the next cursor; using the server clock keeps the
// cursor monotonic regardless of device drift.
func (s *Syncer) Pull(ctx context.Context, userID string, lastPulledAt time.Time) (*PullResult, error) {
	if userID == "" {
		return nil, evverrors.New(evverrors.KindInputValidation, "pull requires a user id")
	}
	entries, err := s.store.EntriesForCaregiverSince(ctx, userID, lastPulledAt)
	if err != nil {
		return nil, err
	}
	return &PullResult{Entries: entries, ServerAt: s.now().UTC()}, nil
}

// Heartbeat records device liveness; stale devices surface in ops tooling.
func (s *Syncer) Heartbeat(ctx context.Context, tenantID, userID, deviceID string) error {
	if deviceID == "" {
		return evverrors.New(evverrors.KindInputValidation, "heartbeat requires a device id")
	}
	now := s.now().UTC()
	return s.store.UpsertDevice(ctx, &evv.MobileDevice{
		DeviceID:   deviceID,
		TenantID:   tenantID,
		UserID:     userID,
		LastSeenAt: now,
	})
}

func (s *Syncer) touchDevice(ctx context.Context, userID, deviceID string) {
	now := s.now().UTC()
	d, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		d = &evv.MobileDevice{DeviceID: deviceID, UserID: userID}
	}
	d.LastSeenAt = now
	if err := s.store.UpsertDevice(ctx, d); err != nil {
		s.log.Warnw("updating device liveness", "device", deviceID, "err", err)
	}
}
