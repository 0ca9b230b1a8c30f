package aggregator

import (
	"context"
	"fmt"

	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
)

// HHAeXchange serves Texas and Florida with per-state schema variation: the
// body shape differs by state rather than being parameterized in a header.
type HHAeXchange struct {
	creds Credentials
	wire  *wireClient
}

var _ Client = (*HHAeXchange)(nil)

func NewHHAeXchange(creds Credentials) *HHAeXchange {
	return &HHAeXchange{
		creds: creds,
		wire:  newWireClient(creds),
	}
}

func (h *HHAeXchange) Type() common.AggregatorType {
	return common.HHAeXchangeAggregatorType
}

// hhaTexasPayload ... Texas schema requires the EVV attendant id
type hhaTexasPayload struct {
	FederalPayload

	VisitID     string `json:"visitKey"`
	AttendantID string `json:"attendantId"`
	// Texas wants the clock-out location too, not just clock-in.
	ClockOutLocation *Location `json:"clockOutLocation,omitempty"`
	IntegrityHash    string    `json:"recordHash,omitempty"`
}

// hhaFloridaPayload ... Florida schema requires the Level-2 background
// screening reference
type hhaFloridaPayload struct {
	FederalPayload

	VisitID       string `json:"visitKey"`
	ScreeningRef  string `json:"level2ScreeningRef"`
	IntegrityHash string `json:"recordHash,omitempty"`
}

func (h *HHAeXchange) Validate(rec *evv.Record, pol policy.StatePolicy) ValidationResult {
	res := validateFederal(rec, pol, h.creds)

	switch pol.StateCode {
	case "TX":
		if rec.StateData["attendantId"] == "" {
			res.Errors = append(res.Errors, "texas submissions require the EVV attendant id")
		}
	case "FL":
		if rec.StateData["level2ScreeningRef"] == "" {
			res.Errors = append(res.Errors, "florida submissions require the Level-2 screening reference")
		}
	}

	res.OK = len(res.Errors) == 0
	return res
}

func (h *HHAeXchange) Submit(ctx context.Context, rec *evv.Record, pol policy.StatePolicy) (SubmissionResult, error) {
	federal, err := buildFederal(rec, h.creds.ProviderID)
	if err != nil {
		return SubmissionResult{}, err
	}

	var payload any
	switch pol.StateCode {
	case "TX":
		p := hhaTexasPayload{
			FederalPayload: federal,
			VisitID:        rec.VisitID,
			AttendantID:    rec.StateData["attendantId"],
			IntegrityHash:  rec.IntegrityHash,
		}
		if v := rec.ClockOutVerification; v != nil {
			p.ClockOutLocation = &Location{
				Latitude:       v.Latitude,
				Longitude:      v.Longitude,
				AccuracyMeters: v.AccuracyMeters,
			}
		}
		payload = p
	case "FL":
		payload = hhaFloridaPayload{
			FederalPayload: federal,
			VisitID:        rec.VisitID,
			ScreeningRef:   rec.StateData["level2ScreeningRef"],
			IntegrityHash:  rec.IntegrityHash,
		}
	default:
		return SubmissionResult{}, fmt.Errorf("hhaexchange has no schema for state %s", pol.StateCode)
	}

	endpoint := h.creds.Endpoint
	if endpoint == "" {
		endpoint = pol.SubmissionEndpoint
	}

	resp, err := h.wire.postJSON(ctx, endpoint, nil, payload)
	if err != nil {
		return SubmissionResult{}, err
	}
	return resultFromWire(resp), nil
}
