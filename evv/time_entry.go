package evv

import "time"

// EntryKind ... atomic clock event type captured on the mobile device
type EntryKind string

const (
	EntryClockIn  EntryKind = "ClockIn"
	EntryClockOut EntryKind = "ClockOut"
	EntryPause    EntryKind = "Pause"
	EntryResume   EntryKind = "Resume"
	EntryCheckIn  EntryKind = "CheckIn"
)

// SyncStatus ... reconciliation outcome recorded on sync metadata
type SyncStatus string

const (
	SyncApplied  SyncStatus = "Applied"
	SyncConflict SyncStatus = "Conflict"
	SyncRejected SyncStatus = "Rejected"
)

// SyncMetadata ... bookkeeping attached to entries that arrived via the
// offline sync path
type SyncMetadata struct {
	BatchID         string     `json:"batchId,omitempty"`
	SequenceInBatch int        `json:"sequenceInBatch"`
	Status          SyncStatus `json:"status"`
	ConflictDetail  string     `json:"conflictDetail,omitempty"`
}

// TimeEntry is an append-only clock event. Multiple entries compose one EVV
// record. Once applied it is immutable history.
type TimeEntry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	VisitID     string    `json:"visitId"`
	CaregiverID string    `json:"caregiverId"`
	Kind        EntryKind `json:"kind"`

	// DeviceTimestamp is trusted only for intra-device ordering. Policy
	// decisions (grace periods, geofence evaluation windows) use ReceivedAt.
	DeviceTimestamp time.Time `json:"deviceTimestamp"`
	ReceivedAt      time.Time `json:"receivedAt"`

	Verification Verification      `json:"verification"`
	DeviceID     string            `json:"deviceId"`
	Device       DeviceFingerprint `json:"device"`

	OfflineCapture bool   `json:"offlineCapture"`
	IntegrityHash  string `json:"integrityHash,omitempty"`

	Sync *SyncMetadata `json:"sync,omitempty"`
}
