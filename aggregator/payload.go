package aggregator

import (
	"fmt"
	"time"

	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
)

// Location ... service location as submitted, the sixth federal element
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// FederalPayload carries the six federally required data elements common to
// every aggregator schema. Aggregator payloads embed it and add their own
// extensions.
type FederalPayload struct {
	ServiceType  string    `json:"serviceType"`
	MemberID     string    `json:"memberId"`
	ProviderID   string    `json:"providerId"`
	ServiceDate  string    `json:"serviceDate"` // YYYY-MM-DD
	ServiceStart time.Time `json:"serviceStart"`
	ServiceEnd   time.Time `json:"serviceEnd"`
	Location     Location  `json:"location"`
}

// buildFederal extracts the six elements from a Complete record.
// Timestamps are normalized to UTC so round-trips are bit-exact.
func buildFederal(rec *evv.Record, providerID string) (FederalPayload, error) {
	if rec.ClockOutAt == nil || rec.ClockInVerification == nil {
		return FederalPayload{}, fmt.Errorf("record %s is not complete", rec.ID)
	}
	v := rec.ClockInVerification
	return FederalPayload{
		ServiceType:  rec.ServiceTypeCode,
		MemberID:     rec.ClientID,
		ProviderID:   providerID,
		ServiceDate:  rec.ServiceDate.UTC().Format("2006-01-02"),
		ServiceStart: rec.ClockInAt.UTC(),
		ServiceEnd:   rec.ClockOutAt.UTC(),
		Location: Location{
			Latitude:       v.Latitude,
			Longitude:      v.Longitude,
			AccuracyMeters: v.AccuracyMeters,
		},
	}, nil
}

// validateFederal enforces presence of all six elements plus the shared
// warning conditions every aggregator checks.
func validateFederal(rec *evv.Record, pol policy.StatePolicy, creds Credentials) ValidationResult {
	var res ValidationResult

	if rec.ServiceTypeCode == "" {
		res.Errors = append(res.Errors, "missing service type code")
	}
	if rec.ClientID == "" {
		res.Errors = append(res.Errors, "missing member id")
	}
	if creds.ProviderID == "" {
		res.Errors = append(res.Errors, "missing provider id")
	}
	if rec.ServiceDate.IsZero() {
		res.Errors = append(res.Errors, "missing service date")
	}
	if rec.ClockInAt.IsZero() {
		res.Errors = append(res.Errors, "missing service start")
	}
	if rec.ClockOutAt == nil {
		res.Errors = append(res.Errors, "missing service end")
	}
	if rec.ClockInVerification == nil {
		res.Errors = append(res.Errors, "missing service location")
	}

	if creds.ProviderNPI == "" && !pol.NPIExempt {
		res.Warnings = append(res.Warnings, "missing NPI and state is not exempt")
	}
	if v := rec.ClockInVerification; v != nil && v.AccuracyMeters > pol.AccuracyCeilingMeters {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("GPS accuracy %.0f m exceeds state tolerance %.0f m", v.AccuracyMeters, pol.AccuracyCeilingMeters))
	}

	res.OK = len(res.Errors) == 0
	return res
}
