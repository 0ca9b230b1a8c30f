package evv

import (
	"fmt"
	"time"
)

// Status ... lifecycle state of an EVV record
type Status string

const (
	StatusPending   Status = "Pending"
	StatusComplete  Status = "Complete"
	StatusSubmitted Status = "Submitted"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusDisputed  Status = "Disputed"
	StatusAmended   Status = "Amended"
	StatusVoided    Status = "Voided"
)

// AtLeastComplete reports whether the record has reached Complete,
// i.e. is locked against ordinary mutation.
func (s Status) AtLeastComplete() bool {
	switch s {
	case StatusComplete, StatusSubmitted, StatusApproved, StatusRejected, StatusDisputed, StatusAmended:
		return true
	default:
		return false
	}
}

// VerificationLevel ... overall confidence classification of a record
type VerificationLevel string

const (
	LevelFull      VerificationLevel = "Full"
	LevelPartial   VerificationLevel = "Partial"
	LevelManual    VerificationLevel = "Manual"
	LevelPhone     VerificationLevel = "Phone"
	LevelException VerificationLevel = "Exception"
)

// ComplianceFlag ... closed set of anomaly markers accumulated on a record
type ComplianceFlag string

const (
	FlagCompliant           ComplianceFlag = "Compliant"
	FlagGeofenceViolation   ComplianceFlag = "GeofenceViolation"
	FlagGeofenceVariance    ComplianceFlag = "GeofenceVariance"
	FlagGpsAccuracyExceeded ComplianceFlag = "GpsAccuracyExceeded"
	FlagTimeGap             ComplianceFlag = "TimeGap"
	FlagDeviceSuspicious    ComplianceFlag = "DeviceSuspicious"
	FlagLocationSuspicious  ComplianceFlag = "LocationSuspicious"
	FlagSuspiciousPattern   ComplianceFlag = "SuspiciousPattern"
	FlagTamperDetected      ComplianceFlag = "TamperDetected"
	FlagUnresolvedPause     ComplianceFlag = "UnresolvedPause"
)

// ExceptionSeverity ... severity attached to an exception event
type ExceptionSeverity string

const (
	SeverityInfo     ExceptionSeverity = "Info"
	SeverityWarning  ExceptionSeverity = "Warning"
	SeverityCritical ExceptionSeverity = "Critical"
)

// PauseEvent ... one pause interval inside a visit. ResumedAt is zero while
// the pause is still open. Intervals are half-open [PausedAt, ResumedAt).
type PauseEvent struct {
	PausedAt  time.Time `json:"pausedAt"`
	ResumedAt time.Time `json:"resumedAt,omitempty"`
	Reason    string    `json:"reason"`
	Unpaid    bool      `json:"unpaid"`
}

// Open reports whether the pause has not been resumed yet.
func (p PauseEvent) Open() bool {
	return p.ResumedAt.IsZero()
}

// ExceptionEvent ... anomaly detected during the visit
type ExceptionEvent struct {
	When        time.Time         `json:"when"`
	Kind        ComplianceFlag    `json:"kind"`
	Severity    ExceptionSeverity `json:"severity"`
	Description string            `json:"description"`
	Resolution  string            `json:"resolution,omitempty"`
}

// Attestation ... caregiver or client sign-off captured at clock-out
type Attestation struct {
	Kind      string    `json:"kind"` // signature | pin | biometric
	Statement string    `json:"statement,omitempty"`
	By        string    `json:"by"`
	At        time.Time `json:"at"`
	PhotoURL  string    `json:"photoUrl,omitempty"`
	PhotoHash string    `json:"photoHash,omitempty"`
}

// ServiceAddress ... the client address a visit is verified against
type ServiceAddress struct {
	Street       string  `json:"street"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// Record is the immutable-once-Complete electronic visit verification record.
// One per visit; amendments fork a new record linked through Amends.
type Record struct {
	ID          string `json:"id"`
	VisitID     string `json:"visitId"`
	TenantID    string `json:"tenantId"`
	BranchID    string `json:"branchId,omitempty"`
	ClientID    string `json:"clientId"`
	CaregiverID string `json:"caregiverId"`

	ServiceTypeCode string         `json:"serviceTypeCode"`
	ServiceAddress  ServiceAddress `json:"serviceAddress"`
	ServiceDate     time.Time      `json:"serviceDate"`
	StateCode       string         `json:"stateCode"`

	ClockInAt  time.Time    `json:"clockInAt"`
	ClockOutAt *time.Time   `json:"clockOutAt,omitempty"`
	Pauses     []PauseEvent `json:"pauses,omitempty"`
	// Total worked duration: clock span minus unpaid pause time. Derived at
	// clock-out, zero before.
	TotalDuration time.Duration `json:"totalDuration"`

	ClockInVerification  *Verification  `json:"clockInVerification,omitempty"`
	ClockOutVerification *Verification  `json:"clockOutVerification,omitempty"`
	MidVisitChecks       []Verification `json:"midVisitChecks,omitempty"`

	Exceptions      []ExceptionEvent  `json:"exceptions,omitempty"`
	Status          Status            `json:"status"`
	Level           VerificationLevel `json:"verificationLevel"`
	ComplianceFlags []ComplianceFlag  `json:"complianceFlags,omitempty"`

	IntegrityHash     string `json:"integrityHash,omitempty"`
	IntegrityChecksum string `json:"integrityChecksum,omitempty"`

	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	PayorStatus    string     `json:"payorStatus,omitempty"`
	ConfirmationID string     `json:"confirmationId,omitempty"`

	CaregiverAttestation *Attestation `json:"caregiverAttestation,omitempty"`
	ClientAttestation    *Attestation `json:"clientAttestation,omitempty"`

	// Amends carries the id of the record this one supersedes.
	Amends string `json:"amends,omitempty"`

	// StateData is the opaque per-state blob (e.g. the Texas EVV attendant id).
	StateData map[string]string `json:"stateData,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// HasFlag reports whether the record carries the given compliance flag.
func (r *Record) HasFlag(flag ComplianceFlag) bool {
	for _, f := range r.ComplianceFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends a compliance flag if not already present. Adding any
// non-Compliant flag also removes the Compliant marker.
func (r *Record) AddFlag(flag ComplianceFlag) {
	if r.HasFlag(flag) {
		return
	}
	if flag != FlagCompliant {
		kept := r.ComplianceFlags[:0]
		for _, f := range r.ComplianceFlags {
			if f != FlagCompliant {
				kept = append(kept, f)
			}
		}
		r.ComplianceFlags = kept
	}
	r.ComplianceFlags = append(r.ComplianceFlags, flag)
}

// OpenPause returns the currently open pause, or -1 if none.
func (r *Record) OpenPause() int {
	for i := range r.Pauses {
		if r.Pauses[i].Open() {
			return i
		}
	}
	return -1
}

// CheckInvariants validates the structural invariants that must hold for any
// record at or past Complete. Violations indicate a bug or tampering, not bad
// caller input.
func (r *Record) CheckInvariants() error {
	if !r.Status.AtLeastComplete() {
		return nil
	}
	if r.ClockOutAt == nil {
		return fmt.Errorf("record %s: status %s without clock-out instant", r.ID, r.Status)
	}
	if r.ClockOutVerification == nil {
		return fmt.Errorf("record %s: status %s without clock-out verification", r.ID, r.Status)
	}
	if !r.ClockOutAt.After(r.ClockInAt) {
		return fmt.Errorf("record %s: clock-out %s not after clock-in %s", r.ID, r.ClockOutAt, r.ClockInAt)
	}
	if r.Status == StatusSubmitted && r.SubmittedAt == nil {
		return fmt.Errorf("record %s: Submitted without submission timestamp", r.ID)
	}
	return checkPauses(r.ClockInAt, *r.ClockOutAt, r.Pauses)
}

// checkPauses verifies that pause intervals are closed, pairwise disjoint
// and contained in [clockIn, clockOut].
func checkPauses(clockIn, clockOut time.Time, pauses []PauseEvent) error {
	var prevEnd time.Time
	for i, p := range pauses {
		if p.Open() {
			return fmt.Errorf("pause %d is still open", i)
		}
		if p.PausedAt.Before(clockIn) || p.ResumedAt.After(clockOut) {
			return fmt.Errorf("pause %d [%s, %s) outside visit window", i, p.PausedAt, p.ResumedAt)
		}
		if !p.ResumedAt.After(p.PausedAt) {
			return fmt.Errorf("pause %d has non-positive duration", i)
		}
		if i > 0 && p.PausedAt.Before(prevEnd) {
			return fmt.Errorf("pause %d overlaps previous pause", i)
		}
		prevEnd = p.ResumedAt
	}
	return nil
}

// UnpaidPauseTotal sums the durations of unpaid pause intervals.
func (r *Record) UnpaidPauseTotal() time.Duration {
	var total time.Duration
	for _, p := range r.Pauses {
		if p.Unpaid && !p.Open() {
			total += p.ResumedAt.Sub(p.PausedAt)
		}
	}
	return total
}
