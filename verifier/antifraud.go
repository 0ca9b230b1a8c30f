package verifier

import (
	"fmt"
	"time"

	"github.com/veritas-care/evv/evv"
)

// maxPlausibleSpeedKmh bounds the apparent travel speed between two checks of
// the same visit before the pattern is flagged (impossible travel).
const maxPlausibleSpeedKmh = 100.0

// FraudSignals ... anti-fraud evaluation over one verification payload,
// optionally against the previous check of the same visit
type FraudSignals struct {
	Flags   []evv.ComplianceFlag
	Reasons []string
}

// Flagged reports whether any signal fired.
func (s FraudSignals) Flagged() bool {
	return len(s.Flags) > 0
}

// CheckFraudSignals inspects a verification for device and location fraud
// markers. None of these block clock events; they accumulate on the record and
// may downgrade its verification level.
//
// highTrustService marks service types where a rooted device alone is
// suspicious.
func CheckFraudSignals(v *evv.Verification, prev *evv.Verification, highTrustService bool) FraudSignals {
	var s FraudSignals

	if v.MockLocation {
		s.Flags = append(s.Flags, evv.FlagDeviceSuspicious)
		s.Reasons = append(s.Reasons, "mock location provider detected")
	}

	if v.VPNDetected && v.IPAddress != "" {
		// A VPN exit alone is weak signal; it matters when the remote IP
		// cannot plausibly sit in the coordinate region. IP geolocation is
		// resolved upstream; here the presence of both markers is enough.
		s.Flags = append(s.Flags, evv.FlagLocationSuspicious)
		s.Reasons = append(s.Reasons, fmt.Sprintf("VPN detected from %s", v.IPAddress))
	}

	if v.Device.Rooted && highTrustService {
		s.Flags = append(s.Flags, evv.FlagDeviceSuspicious)
		s.Reasons = append(s.Reasons, "rooted or jailbroken device on high-trust service")
	}

	if prev != nil {
		if speed, impossible := apparentSpeed(prev, v); impossible {
			s.Flags = append(s.Flags, evv.FlagSuspiciousPattern)
			s.Reasons = append(s.Reasons, fmt.Sprintf("apparent travel speed %.0f km/h between checks", speed))
		}
	}

	s.Flags = dedupeFlags(s.Flags)
	return s
}

// apparentSpeed computes the travel speed implied by two consecutive checks.
// Zero or negative elapsed time with meaningful displacement is treated as
// impossible outright.
func apparentSpeed(prev, cur *evv.Verification) (float64, bool) {
	distanceKm := Haversine(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude) / 1000.0
	elapsed := cur.DeviceTimestamp.Sub(prev.DeviceTimestamp)

	if elapsed <= 0 {
		return 0, distanceKm > 1.0
	}

	speed := distanceKm / elapsed.Hours()
	return speed, speed > maxPlausibleSpeedKmh
}

// EscalateLevel downgrades a record's verification level when fraud signals
// are present. Full drops to Partial; stronger manual levels are kept.
func EscalateLevel(level evv.VerificationLevel, signals FraudSignals) evv.VerificationLevel {
	if !signals.Flagged() {
		return level
	}
	if level == evv.LevelFull {
		return evv.LevelPartial
	}
	return level
}

func dedupeFlags(flags []evv.ComplianceFlag) []evv.ComplianceFlag {
	seen := make(map[evv.ComplianceFlag]struct{}, len(flags))
	out := flags[:0]
	for _, f := range flags {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// TimeGapExceeded reports whether the device-reported instant drifts from the
// authoritative server instant past the state grace period.
func TimeGapExceeded(deviceTime, serverTime time.Time, grace time.Duration) bool {
	drift := serverTime.Sub(deviceTime)
	if drift < 0 {
		drift = -drift
	}
	return drift > grace
}
