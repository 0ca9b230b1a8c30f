package evv

import "time"

// SubmissionState ... aggregator submission state machine, tracked per record
// and separate from the record's own status
type SubmissionState string

const (
	SubmissionNotSubmitted  SubmissionState = "NotSubmitted"
	SubmissionInFlight      SubmissionState = "InFlight"
	SubmissionAwaitingRetry SubmissionState = "AwaitingRetry"
	SubmissionSubmitted     SubmissionState = "Submitted"
	SubmissionAcknowledged  SubmissionState = "Acknowledged"
	SubmissionRejected      SubmissionState = "Rejected"
)

// Submission ... per-record submission row persisted by the dispatcher
type Submission struct {
	RecordID string          `json:"recordId"`
	TenantID string          `json:"tenantId"`
	State    SubmissionState `json:"state"`

	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	// InFlightSince drives the reaper: InFlight rows older than the call
	// timeout are demoted back to AwaitingRetry.
	InFlightSince *time.Time `json:"inFlightSince,omitempty"`

	SubmissionID   string `json:"submissionId,omitempty"`
	ConfirmationID string `json:"confirmationId,omitempty"`
	LastErrorCode  string `json:"lastErrorCode,omitempty"`
	LastError      string `json:"lastError,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// ReviewTask ... reviewer-queue entry for terminal rejections and tamper
// quarantines
type ReviewTask struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	RecordID  string    `json:"recordId"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MobileDevice ... device registration row updated by sync heartbeats
type MobileDevice struct {
	DeviceID   string    `json:"deviceId"`
	TenantID   string    `json:"tenantId"`
	UserID     string    `json:"userId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	LastPullAt time.Time `json:"lastPullAt,omitempty"`
}
