package aggregator

import (
	"context"

	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
)

// Tellus ... single flat schema, state code in the body
type Tellus struct {
	creds Credentials
	wire  *wireClient
}

var _ Client = (*Tellus)(nil)

func NewTellus(creds Credentials) *Tellus {
	return &Tellus{
		creds: creds,
		wire:  newWireClient(creds),
	}
}

func (t *Tellus) Type() common.AggregatorType {
	return common.TellusAggregatorType
}

type tellusPayload struct {
	FederalPayload

	StateCode     string `json:"stateCode"`
	VisitID       string `json:"visitId"`
	CaregiverID   string `json:"caregiverId"`
	IntegrityHash string `json:"recordHash,omitempty"`
}

func (t *Tellus) Validate(rec *evv.Record, pol policy.StatePolicy) ValidationResult {
	res := validateFederal(rec, pol, t.creds)
	if rec.VisitID == "" {
		res.Errors = append(res.Errors, "tellus requires the visit id")
	}
	res.OK = len(res.Errors) == 0
	return res
}

func (t *Tellus) Submit(ctx context.Context, rec *evv.Record, pol policy.StatePolicy) (SubmissionResult, error) {
	federal, err := buildFederal(rec, t.creds.ProviderID)
	if err != nil {
		return SubmissionResult{}, err
	}

	endpoint := t.creds.Endpoint
	if endpoint == "" {
		endpoint = pol.SubmissionEndpoint
	}

	resp, err := t.wire.postJSON(ctx, endpoint, nil, tellusPayload{
		FederalPayload: federal,
		StateCode:      pol.StateCode,
		VisitID:        rec.VisitID,
		CaregiverID:    rec.CaregiverID,
		IntegrityHash:  rec.IntegrityHash,
	})
	if err != nil {
		return SubmissionResult{}, err
	}
	return resultFromWire(resp), nil
}
