package store

import (
	"context"
	"time"

	"github.com/veritas-care/evv/evv"
)

// RecordStore owns EVV record rows. Mutations go through UpdateRecord, which
// applies the mutator under the record's row lock so that transitions on a
// single record are totally ordered.
type RecordStore interface {
	// CreateRecord inserts a new record; Conflict if the id already exists.
	CreateRecord(ctx context.Context, r *evv.Record) error
	GetRecord(ctx context.Context, id string) (*evv.Record, error)
	// UpdateRecord loads the record, applies mutate under the row lock and
	// persists the result with a bumped version. The mutator's error aborts
	// the update and propagates unchanged.
	UpdateRecord(ctx context.Context, id string, mutate func(*evv.Record) error) (*evv.Record, error)
	// GetRecordByVisit returns the live (non-amended) record for a visit, or
	// NotFound.
	GetRecordByVisit(ctx context.Context, visitID string) (*evv.Record, error)
}

// TimeEntryStore is append-only clock event history plus the idempotency
// index used by the sync path.
type TimeEntryStore interface {
	AppendEntry(ctx context.Context, e *evv.TimeEntry) error
	// SeenIdempotencyKey reports whether the key has been marked. Keys
	// collapse duplicate offline pushes.
	SeenIdempotencyKey(ctx context.Context, key string) (bool, error)
	// MarkIdempotencyKey records the key after its change applied. Failed
	// changes stay unmarked so a device replay retries them.
	MarkIdempotencyKey(ctx context.Context, key string) error
	// EntriesForCaregiverSince returns entries for the caregiver received
	// after the cursor, ordered by ReceivedAt.
	EntriesForCaregiverSince(ctx context.Context, caregiverID string, since time.Time) ([]*evv.TimeEntry, error)
}

// GeofenceStore keyed by client id.
type GeofenceStore interface {
	GetGeofence(ctx context.Context, clientID string) (*evv.Geofence, error)
	PutGeofence(ctx context.Context, g *evv.Geofence) error
}

// DeviceStore tracks mobile devices for heartbeat and pull cursors.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, d *evv.MobileDevice) error
	GetDevice(ctx context.Context, deviceID string) (*evv.MobileDevice, error)
}

// SubmissionStore persists the dispatcher's per-record submission state
// machine.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, recordID string) (*evv.Submission, error)
	PutSubmission(ctx context.Context, s *evv.Submission) error
	// CASSubmissionState transitions recordID from one of the allowed states
	// to the target state atomically; Conflict if the current state is not
	// allowed. Missing rows are treated as NotSubmitted.
	CASSubmissionState(ctx context.Context, recordID string, from []evv.SubmissionState, to evv.SubmissionState) (*evv.Submission, error)
	// DueForRetry lists AwaitingRetry submissions whose next attempt time has
	// passed.
	DueForRetry(ctx context.Context, now time.Time) ([]*evv.Submission, error)
	// StuckInFlight lists InFlight submissions older than the cutoff.
	StuckInFlight(ctx context.Context, olderThan time.Time) ([]*evv.Submission, error)
}

// VMURStore persists Texas unlock requests.
type VMURStore interface {
	CreateVMUR(ctx context.Context, v *evv.VMUR) error
	GetVMUR(ctx context.Context, id string) (*evv.VMUR, error)
	UpdateVMUR(ctx context.Context, id string, mutate func(*evv.VMUR) error) (*evv.VMUR, error)
	// VMURByAmendedRecord returns the request whose approval forked the given
	// record, or NotFound.
	VMURByAmendedRecord(ctx context.Context, recordID string) (*evv.VMUR, error)
	// ExpiredPending lists Pending requests whose expiration has passed.
	ExpiredPending(ctx context.Context, now time.Time) ([]*evv.VMUR, error)
}

// ReviewQueue collects records needing human attention.
type ReviewQueue interface {
	AddReviewTask(ctx context.Context, t *evv.ReviewTask) error
	ListReviewTasks(ctx context.Context, tenantID string) ([]*evv.ReviewTask, error)
}

// Store is the full persistence surface. A SQL implementation maps these onto
// the evv_records / time_entries / geofences / sync_metadata / mobile_devices
// / texas_vmur tables; the in-memory implementation backs tests and
// single-process deployments.
type Store interface {
	RecordStore
	TimeEntryStore
	GeofenceStore
	DeviceStore
	SubmissionStore
	VMURStore
	ReviewQueue

	// WithBatch serializes fn against all other batches and updates. The sync
	// push runs inside one batch; a SQL implementation maps this to a single
	// transaction.
	WithBatch(ctx context.Context, fn func(ctx context.Context) error) error
}
