package verifier

import (
	"fmt"
	"math"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/policy"
)

// ComplianceLevel ... geofence classification for a single clock event
type ComplianceLevel string

const (
	// Compliant: inside the base radius.
	Compliant ComplianceLevel = "Compliant"
	// Warning: outside the base radius but inside the accuracy allowance.
	// Flagged, never blocking.
	Warning ComplianceLevel = "Warning"
	// Violation: outside the effective radius, or accuracy above the state
	// ceiling in strict mode. Needs a manual override or an amendment.
	Violation ComplianceLevel = "Violation"
)

const (
	earthRadiusMeters = 6_371_000.0
	maxAccuracyMeters = 10_000.0
)

// GeofenceCheck ... result of one geofence evaluation
type GeofenceCheck struct {
	Level             ComplianceLevel `json:"level"`
	DistanceMeters    float64         `json:"distanceMeters"`
	EffectiveRadius   float64         `json:"effectiveRadius"`
	RequiresException bool            `json:"requiresException"`
	SuggestedAction   string          `json:"suggestedAction,omitempty"`
	AccuracyExceeded  bool            `json:"accuracyExceeded,omitempty"`
}

// Haversine computes the great-circle distance in meters between two points
// on the WGS-84 sphere approximation.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	rLat1 := lat1 * (math.Pi / 180.0)
	rLat2 := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(rLat1)*math.Cos(rLat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

func validCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// CheckGeofence classifies an actual location against the service address
// under the given state policy.
//
// The boundary value is Compliant: distance exactly equal to the base radius
// passes, and accuracy exactly equal to the strict-mode ceiling passes.
func CheckGeofence(
	addrLat, addrLon, baseRadius float64,
	actualLat, actualLon, accuracy float64,
	pol policy.StatePolicy,
) (GeofenceCheck, error) {
	if !validCoordinate(addrLat, addrLon) {
		return GeofenceCheck{}, evverrors.WithFields(evverrors.KindInputValidation,
			fmt.Errorf("service address coordinate out of range: (%f, %f)", addrLat, addrLon),
			"serviceAddress.latitude", "serviceAddress.longitude")
	}
	if !validCoordinate(actualLat, actualLon) {
		return GeofenceCheck{}, evverrors.WithFields(evverrors.KindInputValidation,
			fmt.Errorf("location coordinate out of range: (%f, %f)", actualLat, actualLon),
			"location.latitude", "location.longitude")
	}
	if accuracy < 0 || accuracy > maxAccuracyMeters {
		return GeofenceCheck{}, evverrors.WithFields(evverrors.KindInputValidation,
			fmt.Errorf("accuracy %f m outside [0, %.0f]", accuracy, maxAccuracyMeters),
			"location.accuracyMeters")
	}
	if baseRadius <= 0 {
		baseRadius = pol.GeofenceRadiusMeters
	}

	distance := Haversine(actualLat, actualLon, addrLat, addrLon)
	effective := baseRadius + accuracy*pol.AccuracyAllowanceMultiplier

	check := GeofenceCheck{
		DistanceMeters:  distance,
		EffectiveRadius: effective,
	}

	// Strict-mode ceiling trumps distance: accuracy strictly above the
	// ceiling is a violation even at the address.
	if pol.StrictAccuracy && accuracy > pol.AccuracyCeilingMeters {
		check.Level = Violation
		check.AccuracyExceeded = true
		check.RequiresException = true
		check.SuggestedAction = "retry with better GPS fix or attach a supervisor override"
		return check, nil
	}

	switch {
	case distance <= baseRadius:
		check.Level = Compliant
	case distance <= effective:
		check.Level = Warning
		check.SuggestedAction = "verify caregiver position; within accuracy allowance"
	default:
		check.Level = Violation
		check.RequiresException = true
		check.SuggestedAction = "attach a supervisor override or correct through amendment"
	}
	return check, nil
}
