package engine

import (
	"fmt"
	"time"

	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/verifier"
)

// evaluation bundles everything one clock event's verification produced:
// the annotated verification value, the flags to accumulate on the record and
// the exception events to append.
type evaluation struct {
	verification evv.Verification
	flags        []evv.ComplianceFlag
	exceptions   []evv.ExceptionEvent
	level        evv.VerificationLevel
}

// evaluate runs the geofence, anti-fraud and clock drift checks for one event.
// prev is the previous verification of the same visit, nil at clock-in.
func (e *Engine) evaluate(
	addr evv.ServiceAddress,
	pol policy.StatePolicy,
	v evv.Verification,
	prev *evv.Verification,
	serviceTypeCode string,
	receivedAt time.Time,
) (evaluation, error) {
	out := evaluation{verification: v, level: levelForMethod(v.Method)}

	check, err := verifier.CheckGeofence(
		addr.Latitude, addr.Longitude, addr.RadiusMeters,
		v.Latitude, v.Longitude, v.AccuracyMeters, pol)
	if err != nil {
		return evaluation{}, err
	}
	e.m.RecordGeofenceCheck(pol.StateCode, string(check.Level))

	out.verification.Geofence = evv.GeofenceResult{
		WithinGeofence: check.Level == verifier.Compliant,
		DistanceMeters: check.DistanceMeters,
		Passed:         check.Level != verifier.Violation,
	}
	out.verification.Passed = check.Level != verifier.Violation

	switch check.Level {
	case verifier.Compliant:
		out.flags = append(out.flags, evv.FlagCompliant)
	case verifier.Warning:
		out.flags = append(out.flags, evv.FlagGeofenceVariance)
		out.exceptions = append(out.exceptions, evv.ExceptionEvent{
			When:     receivedAt,
			Kind:     evv.FlagGeofenceVariance,
			Severity: evv.SeverityWarning,
			Description: fmt.Sprintf("location %.0f m from service address, inside %.0f m accuracy allowance",
				check.DistanceMeters, check.EffectiveRadius),
		})
	case verifier.Violation:
		flag := evv.FlagGeofenceViolation
		desc := fmt.Sprintf("location %.0f m from service address, outside %.0f m effective radius",
			check.DistanceMeters, check.EffectiveRadius)
		if check.AccuracyExceeded {
			flag = evv.FlagGpsAccuracyExceeded
			desc = fmt.Sprintf("GPS accuracy %.0f m above the %.0f m state ceiling",
				v.AccuracyMeters, pol.AccuracyCeilingMeters)
		}
		out.flags = append(out.flags, flag)
		out.verification.FailureReasons = append(out.verification.FailureReasons, desc)
		out.exceptions = append(out.exceptions, evv.ExceptionEvent{
			When:        receivedAt,
			Kind:        flag,
			Severity:    evv.SeverityCritical,
			Description: desc,
			Resolution:  check.SuggestedAction,
		})

		// A permitted supervisor override turns the violation into a flagged
		// but passing event at Manual level.
		if v.Override != nil && pol.PermitsOverrideReason(v.Override.ReasonCode) {
			out.verification.Passed = true
			out.level = evv.LevelManual
			out.exceptions[len(out.exceptions)-1].Resolution =
				fmt.Sprintf("overridden by %s (%s)", v.Override.Supervisor, v.Override.ReasonCode)
		}
	}

	signals := verifier.CheckFraudSignals(&out.verification, prev, e.HighTrustServices[serviceTypeCode])
	for i, f := range signals.Flags {
		out.flags = append(out.flags, f)
		out.exceptions = append(out.exceptions, evv.ExceptionEvent{
			When:        receivedAt,
			Kind:        f,
			Severity:    evv.SeverityWarning,
			Description: signals.Reasons[i],
		})
	}
	out.level = verifier.EscalateLevel(out.level, signals)

	if verifier.TimeGapExceeded(v.DeviceTimestamp, receivedAt, pol.GracePeriod) {
		out.flags = append(out.flags, evv.FlagTimeGap)
		out.exceptions = append(out.exceptions, evv.ExceptionEvent{
			When:     receivedAt,
			Kind:     evv.FlagTimeGap,
			Severity: evv.SeverityWarning,
			Description: fmt.Sprintf("device clock %s drifts from server receipt past the %s grace period",
				v.DeviceTimestamp.Format(time.RFC3339), pol.GracePeriod),
		})
	}

	return out, nil
}

// levelForMethod maps the capture method to the baseline verification level
// before fraud escalation.
func levelForMethod(m evv.Method) evv.VerificationLevel {
	switch m {
	case evv.MethodGPS, evv.MethodFacial, evv.MethodBiometric:
		return evv.LevelFull
	case evv.MethodNetwork, evv.MethodWiFi, evv.MethodCell:
		return evv.LevelPartial
	case evv.MethodPhone:
		return evv.LevelPhone
	case evv.MethodManual:
		return evv.LevelManual
	case evv.MethodException:
		return evv.LevelException
	default:
		return evv.LevelPartial
	}
}

// weakerLevel returns the weaker of two verification levels. A record's level
// is the weakest of its clock-in and clock-out evaluations.
func weakerLevel(a, b evv.VerificationLevel) evv.VerificationLevel {
	rank := map[evv.VerificationLevel]int{
		evv.LevelFull:      4,
		evv.LevelPartial:   3,
		evv.LevelPhone:     2,
		evv.LevelManual:    1,
		evv.LevelException: 0,
	}
	if rank[a] <= rank[b] {
		return a
	}
	return b
}
