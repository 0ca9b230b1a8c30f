package evv

import "time"

// Method ... how a clock event was verified
type Method string

const (
	MethodGPS       Method = "GPS"
	MethodNetwork   Method = "Network"
	MethodWiFi      Method = "WiFi"
	MethodCell      Method = "Cell"
	MethodPhone     Method = "Phone"
	MethodFacial    Method = "Facial"
	MethodBiometric Method = "Biometric"
	MethodManual    Method = "Manual"
	MethodException Method = "Exception"
)

// LocationSource ... provenance of the reported coordinates
type LocationSource string

const (
	SourceGPSSatellite      LocationSource = "GPSSatellite"
	SourceNetworkProvider   LocationSource = "NetworkProvider"
	SourceWiFiTriangulation LocationSource = "WiFiTriangulation"
	SourceCellTower         LocationSource = "CellTower"
	SourceFused             LocationSource = "Fused"
	SourceManualEntry       LocationSource = "ManualEntry"
)

// TimestampSource ... origin of the device-reported instant
type TimestampSource string

const (
	TimestampDevice  TimestampSource = "Device"
	TimestampNetwork TimestampSource = "Network"
	TimestampGPS     TimestampSource = "GPS"
)

// DeviceFingerprint ... device identity captured alongside a verification
type DeviceFingerprint struct {
	DeviceID    string `json:"deviceId"`
	Model       string `json:"model,omitempty"`
	OS          string `json:"os,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
	BatteryPct  int    `json:"batteryPct,omitempty"`
	NetworkType string `json:"networkType,omitempty"`
	Rooted      bool   `json:"rooted,omitempty"`
}

// GeofenceResult ... outcome of the geofence evaluation for one verification
type GeofenceResult struct {
	WithinGeofence bool    `json:"withinGeofence"`
	DistanceMeters float64 `json:"distanceMeters"`
	Passed         bool    `json:"passed"`
}

// ManualOverride ... supervisor override attached to a failed verification
type ManualOverride struct {
	By         string    `json:"by"`
	At         time.Time `json:"at"`
	ReasonCode string    `json:"reasonCode"`
	Supervisor string    `json:"supervisor"`
	Authority  string    `json:"authority,omitempty"`
}

// Verification is the flat value captured at every clock / check event.
// All verification logic is pure given this input.
type Verification struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`
	Altitude       float64 `json:"altitude,omitempty"`
	Heading        float64 `json:"heading,omitempty"`
	Speed          float64 `json:"speed,omitempty"`

	DeviceTimestamp time.Time       `json:"deviceTimestamp"`
	TimestampSource TimestampSource `json:"timestampSource"`

	Geofence GeofenceResult `json:"geofence"`

	Device DeviceFingerprint `json:"device"`

	Method Method         `json:"method"`
	Source LocationSource `json:"locationSource"`

	MockLocation bool   `json:"mockLocation,omitempty"`
	VPNDetected  bool   `json:"vpnDetected,omitempty"`
	IPAddress    string `json:"ipAddress,omitempty"`

	PhotoURL        string `json:"photoUrl,omitempty"`
	PhotoHash       string `json:"photoHash,omitempty"`
	BiometricMethod string `json:"biometricMethod,omitempty"`

	Passed         bool     `json:"passed"`
	FailureReasons []string `json:"failureReasons,omitempty"`

	Override *ManualOverride `json:"override,omitempty"`
}
