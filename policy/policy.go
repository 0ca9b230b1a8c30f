package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/veritas-care/evv/common"
)

// FederalElements are the six data elements required on every EVV submission
// under the 21st Century Cures Act.
var FederalElements = []string{
	"serviceType", "memberId", "providerId", "serviceStart", "serviceEnd", "serviceLocation",
}

// StatePolicy ... per-state compliance row consulted by the verifier, the
// dispatcher and the VMUR workflow
type StatePolicy struct {
	StateCode string `yaml:"stateCode"`

	GeofenceRadiusMeters float64 `yaml:"geofenceRadiusMeters"`
	// AccuracyCeilingMeters bounds acceptable GPS accuracy. With StrictAccuracy
	// set, accuracy strictly above the ceiling is an outright violation.
	AccuracyCeilingMeters float64 `yaml:"accuracyCeilingMeters"`
	StrictAccuracy        bool    `yaml:"strictAccuracy"`
	// AccuracyAllowanceMultiplier scales reported accuracy into the effective
	// radius: effective = base + accuracy * multiplier.
	AccuracyAllowanceMultiplier float64 `yaml:"accuracyAllowanceMultiplier"`

	GracePeriod time.Duration `yaml:"gracePeriod"`

	OverrideReasonCodes []string `yaml:"overrideReasonCodes"`
	RequiredStateFields []string `yaml:"requiredStateFields"`

	Aggregator         common.AggregatorType `yaml:"-"`
	AggregatorName     string                `yaml:"aggregator"`
	SubmissionEndpoint string                `yaml:"submissionEndpoint"`

	NPIExempt bool `yaml:"npiExempt"`
}

// PermitsOverrideReason reports whether the state allows the given manual
// override reason code.
func (p StatePolicy) PermitsOverrideReason(code string) bool {
	return common.Contains(p.OverrideReasonCodes, code)
}

// Defaults returns the built-in policy table. Configuration files extend or
// replace rows; states not listed anywhere fall back to the Default row.
func Defaults() map[string]StatePolicy {
	return map[string]StatePolicy{
		"TX": {
			StateCode:                   "TX",
			GeofenceRadiusMeters:        100,
			AccuracyCeilingMeters:       100,
			StrictAccuracy:              true,
			AccuracyAllowanceMultiplier: 1.0,
			GracePeriod:                 10 * time.Minute,
			OverrideReasonCodes: []string{
				"DeviceMalfunction", "GpsUnavailable", "ClockOutMissed",
				"ClientRefusedVerification", "NaturalDisaster",
			},
			RequiredStateFields: []string{"attendantId"},
			Aggregator:          common.HHAeXchangeAggregatorType,
			AggregatorName:      "HHAeXchange",
			SubmissionEndpoint:  "https://api.hhaexchange.com/evv/v2/visits",
		},
		"FL": {
			StateCode:                   "FL",
			GeofenceRadiusMeters:        150,
			AccuracyCeilingMeters:       200,
			StrictAccuracy:              false,
			AccuracyAllowanceMultiplier: 1.0,
			GracePeriod:                 15 * time.Minute,
			OverrideReasonCodes: []string{
				"DeviceMalfunction", "GpsUnavailable", "ClockOutMissed",
			},
			RequiredStateFields: []string{"level2ScreeningRef"},
			Aggregator:          common.HHAeXchangeAggregatorType,
			AggregatorName:      "HHAeXchange",
			SubmissionEndpoint:  "https://fl.hhaexchange.com/evv/v1/visits",
			NPIExempt:           true,
		},
		"OH": {
			StateCode:                   "OH",
			GeofenceRadiusMeters:        150,
			AccuracyCeilingMeters:       200,
			StrictAccuracy:              false,
			AccuracyAllowanceMultiplier: 1.0,
			GracePeriod:                 15 * time.Minute,
			OverrideReasonCodes:         []string{"DeviceMalfunction", "GpsUnavailable"},
			Aggregator:                  common.SandataAggregatorType,
			AggregatorName:              "Sandata",
			SubmissionEndpoint:          "https://api.sandata.com/interfaces/intake/visits",
		},
		"GA": {
			StateCode:                   "GA",
			GeofenceRadiusMeters:        150,
			AccuracyCeilingMeters:       200,
			StrictAccuracy:              false,
			AccuracyAllowanceMultiplier: 1.0,
			GracePeriod:                 15 * time.Minute,
			OverrideReasonCodes:         []string{"DeviceMalfunction", "GpsUnavailable"},
			Aggregator:                  common.TellusAggregatorType,
			AggregatorName:              "Tellus",
			SubmissionEndpoint:          "https://evv.4tellus.net/api/visits",
		},
		DefaultStateCode: {
			StateCode:                   DefaultStateCode,
			GeofenceRadiusMeters:        150,
			AccuracyCeilingMeters:       200,
			StrictAccuracy:              false,
			AccuracyAllowanceMultiplier: 1.0,
			GracePeriod:                 15 * time.Minute,
			OverrideReasonCodes:         []string{"DeviceMalfunction", "GpsUnavailable"},
			Aggregator:                  common.SandataAggregatorType,
			AggregatorName:              "Sandata",
			SubmissionEndpoint:          "https://api.sandata.com/interfaces/intake/visits",
		},
	}
}

// DefaultStateCode keys the fallback row used for states without an explicit
// policy.
const DefaultStateCode = "DEFAULT"

// Table is a read-mostly view of the per-state policy rows. Lookups are
// lock-free against an immutable map; reloads swap the whole map (RCU).
type Table struct {
	mu   sync.RWMutex
	rows map[string]StatePolicy
}

// NewTable builds a table over the built-in defaults.
func NewTable() *Table {
	return &Table{rows: Defaults()}
}

// Lookup returns the policy row for the given two-letter state code, falling
// back to the Default row for unlisted states.
func (t *Table) Lookup(stateCode string) StatePolicy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.rows[strings.ToUpper(stateCode)]; ok {
		return p
	}
	return t.rows[DefaultStateCode]
}

// Has reports whether an explicit (non-fallback) row exists for the state.
func (t *Table) Has(stateCode string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[strings.ToUpper(stateCode)]
	return ok
}

// Swap replaces the whole table. Used on config reload; readers never block
// on a reload in progress.
func (t *Table) Swap(rows map[string]StatePolicy) error {
	if _, ok := rows[DefaultStateCode]; !ok {
		return fmt.Errorf("policy table missing %s row", DefaultStateCode)
	}
	t.mu.Lock()
	t.rows = rows
	t.mu.Unlock()
	return nil
}
