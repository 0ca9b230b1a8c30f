package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
)

// Sandata serves many states with a single payload schema; the state is
// carried in a request header, not in the body.
type Sandata struct {
	creds Credentials
	wire  *wireClient
}

var _ Client = (*Sandata)(nil)

func NewSandata(creds Credentials) *Sandata {
	return &Sandata{
		creds: creds,
		wire:  newWireClient(creds),
	}
}

func (s *Sandata) Type() common.AggregatorType {
	return common.SandataAggregatorType
}

// SandataPayload ... Sandata intake schema, shared across states
type SandataPayload struct {
	FederalPayload

	VisitID           string   `json:"visitId"`
	CaregiverID       string   `json:"employeeId"`
	VerificationLevel string   `json:"verificationLevel"`
	ComplianceFlags   []string `json:"complianceFlags,omitempty"`
	IntegrityHash     string   `json:"recordHash,omitempty"`
}

// BuildSandataPayload formats a Complete record into the Sandata intake
// schema.
func BuildSandataPayload(rec *evv.Record, creds Credentials) (SandataPayload, error) {
	federal, err := buildFederal(rec, creds.ProviderID)
	if err != nil {
		return SandataPayload{}, err
	}

	flags := make([]string, 0, len(rec.ComplianceFlags))
	for _, f := range rec.ComplianceFlags {
		flags = append(flags, string(f))
	}

	return SandataPayload{
		FederalPayload:    federal,
		VisitID:           rec.VisitID,
		CaregiverID:       rec.CaregiverID,
		VerificationLevel: string(rec.Level),
		ComplianceFlags:   flags,
		IntegrityHash:     rec.IntegrityHash,
	}, nil
}

// ParseSandataPayload decodes an intake body back into the payload. The six
// federal elements round-trip bit-exactly through this pair.
func ParseSandataPayload(raw []byte) (SandataPayload, error) {
	var p SandataPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return SandataPayload{}, fmt.Errorf("decoding sandata payload: %w", err)
	}
	return p, nil
}

func (s *Sandata) Validate(rec *evv.Record, pol policy.StatePolicy) ValidationResult {
	res := validateFederal(rec, pol, s.creds)

	if rec.VisitID == "" {
		res.Errors = append(res.Errors, "sandata requires the visit id")
	}
	if rec.CaregiverID == "" {
		res.Errors = append(res.Errors, "sandata requires the employee id")
	}

	res.OK = len(res.Errors) == 0
	return res
}

func (s *Sandata) Submit(ctx context.Context, rec *evv.Record, pol policy.StatePolicy) (SubmissionResult, error) {
	payload, err := BuildSandataPayload(rec, s.creds)
	if err != nil {
		return SubmissionResult{}, err
	}

	endpoint := s.creds.Endpoint
	if endpoint == "" {
		endpoint = pol.SubmissionEndpoint
	}

	resp, err := s.wire.postJSON(ctx, endpoint, map[string]string{
		"X-Sandata-State": pol.StateCode,
	}, payload)
	if err != nil {
		return SubmissionResult{}, err
	}
	return resultFromWire(resp), nil
}
