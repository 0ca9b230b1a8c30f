package aggregator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
)

func completeRecord() *evv.Record {
	in := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	out := in.Add(4 * time.Hour)
	r := &evv.Record{
		ID:          "evv-1",
		VisitID:     "visit-1",
		TenantID:    "tenant-1",
		ClientID:    "member-1",
		CaregiverID: "cg-1",

		ServiceTypeCode: "T1019",
		ServiceDate:     in.Truncate(24 * time.Hour),
		StateCode:       "TX",
		StateData:       map[string]string{"attendantId": "att-9"},

		ClockInAt:  in,
		ClockOutAt: &out,
		ClockInVerification: &evv.Verification{
			Latitude: 30.2672, Longitude: -97.7431, AccuracyMeters: 8,
			DeviceTimestamp: in, Method: evv.MethodGPS,
			Device: evv.DeviceFingerprint{DeviceID: "dev-1"},
		},
		ClockOutVerification: &evv.Verification{
			Latitude: 30.2673, Longitude: -97.7432, AccuracyMeters: 12,
			DeviceTimestamp: out, Method: evv.MethodGPS,
			Device: evv.DeviceFingerprint{DeviceID: "dev-1"},
		},
		Status: evv.StatusComplete,
		Level:  evv.LevelFull,
	}
	evv.SealIntegrity(r)
	return r
}

func testCreds() Credentials {
	return Credentials{
		Endpoint:    "https://aggregator.test/visits",
		Mode:        AuthAPIKey,
		APIKey:      "key",
		ProviderID:  "prov-1",
		ProviderNPI: "1234567890",
	}
}

func TestValidateFederal_CompleteRecordPasses(t *testing.T) {
	res := validateFederal(completeRecord(), policy.Defaults()["TX"], testCreds())
	require.True(t, res.OK)
	require.Empty(t, res.Errors)
	require.Empty(t, res.Warnings)
}

func TestValidateFederal_EachMissingElementFails(t *testing.T) {
	cases := map[string]func(*evv.Record, *Credentials){
		"service type": func(r *evv.Record, _ *Credentials) { r.ServiceTypeCode = "" },
		"member id":    func(r *evv.Record, _ *Credentials) { r.ClientID = "" },
		"provider id":  func(_ *evv.Record, c *Credentials) { c.ProviderID = "" },
		"service date": func(r *evv.Record, _ *Credentials) { r.ServiceDate = time.Time{} },
		"start":        func(r *evv.Record, _ *Credentials) { r.ClockInAt = time.Time{} },
		"end":          func(r *evv.Record, _ *Credentials) { r.ClockOutAt = nil },
		"location":     func(r *evv.Record, _ *Credentials) { r.ClockInVerification = nil },
	}
	for name, mutate := range cases {
		rec := completeRecord()
		creds := testCreds()
		mutate(rec, &creds)
		res := validateFederal(rec, policy.Defaults()["TX"], creds)
		require.False(t, res.OK, "missing %s must fail validation", name)
	}
}

func TestValidateFederal_NPIWarningUnlessExempt(t *testing.T) {
	creds := testCreds()
	creds.ProviderNPI = ""

	res := validateFederal(completeRecord(), policy.Defaults()["TX"], creds)
	require.True(t, res.OK)
	require.NotEmpty(t, res.Warnings)

	res = validateFederal(completeRecord(), policy.Defaults()["FL"], creds)
	require.Empty(t, res.Warnings)
}

func TestBuildSandataPayload_RoundTrip(t *testing.T) {
	rec := completeRecord()
	p, err := BuildSandataPayload(rec, testCreds())
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	back, err := ParseSandataPayload(raw)
	require.NoError(t, err)

	// the six federal elements survive the round trip bit-exactly
	require.Equal(t, "T1019", back.ServiceType)
	require.Equal(t, "member-1", back.MemberID)
	require.Equal(t, "prov-1", back.ProviderID)
	require.Equal(t, "2026-07-10", back.ServiceDate)
	require.True(t, back.ServiceStart.Equal(rec.ClockInAt))
	require.True(t, back.ServiceEnd.Equal(*rec.ClockOutAt))
	require.Equal(t, rec.ClockInVerification.Latitude, back.Location.Latitude)
	require.Equal(t, rec.ClockInVerification.Longitude, back.Location.Longitude)

	require.Equal(t, rec.IntegrityHash, back.IntegrityHash)
	require.Equal(t, "Full", back.VerificationLevel)
}

func TestBuildFederal_RejectsIncompleteRecord(t *testing.T) {
	rec := completeRecord()
	rec.ClockOutAt = nil
	_, err := buildFederal(rec, "prov-1")
	require.Error(t, err)
}

func TestHHAeXchange_TexasRequiresAttendantID(t *testing.T) {
	client := NewHHAeXchange(testCreds())
	pol := policy.Defaults()["TX"]

	rec := completeRecord()
	require.True(t, client.Validate(rec, pol).OK)

	delete(rec.StateData, "attendantId")
	require.False(t, client.Validate(rec, pol).OK)
}
