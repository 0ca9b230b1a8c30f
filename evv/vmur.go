package evv

import "time"

// VMURStatus ... lifecycle of a Visit Maintenance Unlock Request
type VMURStatus string

const (
	VMURPending  VMURStatus = "Pending"
	VMURApproved VMURStatus = "Approved"
	VMURDenied   VMURStatus = "Denied"
	VMURExpired  VMURStatus = "Expired"
)

// VMURTTL ... a pending request expires 30 days after creation
const VMURTTL = 30 * 24 * time.Hour

// Texas VMUR eligibility window, measured from the service date.
const (
	VMURWindowFloor   = 30 * 24 * time.Hour
	VMURWindowCeiling = 60 * 24 * time.Hour
)

// CorrectedData ... the fields a VMUR is allowed to amend
type CorrectedData struct {
	ClockInAt       *time.Time        `json:"clockInAt,omitempty"`
	ClockOutAt      *time.Time        `json:"clockOutAt,omitempty"`
	ServiceTypeCode string            `json:"serviceTypeCode,omitempty"`
	StateData       map[string]string `json:"stateData,omitempty"`
}

// VMUR is a Texas post-lock amendment request requiring supervisor approval.
type VMUR struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	RecordID string `json:"recordId"`
	VisitID  string `json:"visitId"`

	// OriginalSnapshot preserves the record as it stood at request time.
	OriginalSnapshot *Record       `json:"originalSnapshot"`
	Corrected        CorrectedData `json:"corrected"`
	ChangeSummary    string        `json:"changeSummary"`

	ReasonCode    string `json:"reasonCode"`
	Justification string `json:"justification"`

	RequestedBy string     `json:"requestedBy"`
	Status      VMURStatus `json:"status"`

	ApprovedBy    string     `json:"approvedBy,omitempty"`
	ApprovalNotes string     `json:"approvalNotes,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	DenialReason  string     `json:"denialReason,omitempty"`

	// AmendedRecordID links to the record forked on approval.
	AmendedRecordID string `json:"amendedRecordId,omitempty"`
	// AggregatorAcknowledged flips when the aggregator acknowledges the
	// amended record; the request is complete only then.
	AggregatorAcknowledged bool `json:"aggregatorAcknowledged"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
