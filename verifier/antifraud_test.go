package verifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritas-care/evv/evv"
)

func baseVerification(at time.Time) evv.Verification {
	return evv.Verification{
		Latitude:        30.2672,
		Longitude:       -97.7431,
		AccuracyMeters:  10,
		DeviceTimestamp: at,
		Method:          evv.MethodGPS,
		Device:          evv.DeviceFingerprint{DeviceID: "dev-1"},
	}
}

func TestCheckFraudSignals_Clean(t *testing.T) {
	v := baseVerification(time.Now())
	s := CheckFraudSignals(&v, nil, false)
	require.False(t, s.Flagged())
}

func TestCheckFraudSignals_MockLocation(t *testing.T) {
	v := baseVerification(time.Now())
	v.MockLocation = true

	s := CheckFraudSignals(&v, nil, false)
	require.Contains(t, s.Flags, evv.FlagDeviceSuspicious)
}

func TestCheckFraudSignals_VPNWithIP(t *testing.T) {
	v := baseVerification(time.Now())
	v.VPNDetected = true
	v.IPAddress = "203.0.113.7"

	s := CheckFraudSignals(&v, nil, false)
	require.Contains(t, s.Flags, evv.FlagLocationSuspicious)
}

func TestCheckFraudSignals_RootedDeviceOnlyOnHighTrust(t *testing.T) {
	v := baseVerification(time.Now())
	v.Device.Rooted = true

	require.False(t, CheckFraudSignals(&v, nil, false).Flagged())
	require.Contains(t, CheckFraudSignals(&v, nil, true).Flags, evv.FlagDeviceSuspicious)
}

func TestCheckFraudSignals_ImpossibleTravel(t *testing.T) {
	now := time.Now()
	prev := baseVerification(now)

	cur := baseVerification(now.Add(5 * time.Minute))
	// Dallas, ~300 km away, five minutes later
	cur.Latitude = 32.7767
	cur.Longitude = -96.7970

	s := CheckFraudSignals(&cur, &prev, false)
	require.Contains(t, s.Flags, evv.FlagSuspiciousPattern)
}

func TestCheckFraudSignals_PlausibleTravelUnflagged(t *testing.T) {
	now := time.Now()
	prev := baseVerification(now)

	cur := baseVerification(now.Add(2 * time.Hour))
	// ~1 km away two hours later
	cur.Latitude = prev.Latitude + 0.009

	require.False(t, CheckFraudSignals(&cur, &prev, false).Flagged())
}

func TestCheckFraudSignals_ZeroElapsedDisplacement(t *testing.T) {
	now := time.Now()
	prev := baseVerification(now)

	cur := baseVerification(now)
	cur.Latitude = 32.7767
	cur.Longitude = -96.7970

	s := CheckFraudSignals(&cur, &prev, false)
	require.Contains(t, s.Flags, evv.FlagSuspiciousPattern)
}

func TestEscalateLevel(t *testing.T) {
	flagged := FraudSignals{Flags: []evv.ComplianceFlag{evv.FlagDeviceSuspicious}}

	require.Equal(t, evv.LevelPartial, EscalateLevel(evv.LevelFull, flagged))
	require.Equal(t, evv.LevelManual, EscalateLevel(evv.LevelManual, flagged))
	require.Equal(t, evv.LevelFull, EscalateLevel(evv.LevelFull, FraudSignals{}))
}

func TestTimeGapExceeded(t *testing.T) {
	now := time.Now()
	grace := 10 * time.Minute

	require.False(t, TimeGapExceeded(now.Add(-5*time.Minute), now, grace))
	require.True(t, TimeGapExceeded(now.Add(-11*time.Minute), now, grace))
	// drift in either direction counts
	require.True(t, TimeGapExceeded(now.Add(11*time.Minute), now, grace))
}
