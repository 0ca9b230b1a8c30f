package evv

import "time"

// GeofenceShape ... geometry of the permitted region
type GeofenceShape string

const (
	ShapeCircle  GeofenceShape = "Circle"
	ShapePolygon GeofenceShape = "Polygon"
)

// GeoPoint ... one polygon vertex
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geofence ... permissible region around a client service address, with
// observation counters updated on every evaluation.
type Geofence struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	ClientID  string `json:"clientId"`
	AddressID string `json:"addressId,omitempty"`

	CenterLatitude  float64       `json:"centerLatitude"`
	CenterLongitude float64       `json:"centerLongitude"`
	RadiusMeters    float64       `json:"radiusMeters"`
	Shape           GeofenceShape `json:"shape"`
	Polygon         []GeoPoint    `json:"polygon,omitempty"`
	RadiusType      string        `json:"radiusType,omitempty"` // state-default | calibrated | manual

	CalibratedAt *time.Time `json:"calibratedAt,omitempty"`
	CalibratedBy string     `json:"calibratedBy,omitempty"`

	VerificationCount int     `json:"verificationCount"`
	SuccessCount      int     `json:"successCount"`
	AvgAccuracyMeters float64 `json:"avgAccuracyMeters"`
}

// Observe folds one evaluation into the rolling counters.
func (g *Geofence) Observe(accuracyMeters float64, success bool) {
	g.VerificationCount++
	if success {
		g.SuccessCount++
	}
	// incremental mean keeps the column O(1) to update
	g.AvgAccuracyMeters += (accuracyMeters - g.AvgAccuracyMeters) / float64(g.VerificationCount)
}
