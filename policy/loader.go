package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veritas-care/evv/common"
)

// fileFormat ... on-disk shape of a policy overrides file
type fileFormat struct {
	States []StatePolicy `yaml:"states"`
}

// LoadFile merges policy rows from a YAML file over the built-in defaults.
// Rows in the file replace defaults wholesale for their state code.
func LoadFile(path string) (map[string]StatePolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	rows := Defaults()
	for _, p := range f.States {
		code := strings.ToUpper(p.StateCode)
		if len(code) != 2 && code != DefaultStateCode {
			return nil, fmt.Errorf("policy file %s: invalid state code %q", path, p.StateCode)
		}
		p.StateCode = code
		p.Aggregator = common.StringToAggregatorType(p.AggregatorName)
		if p.Aggregator == common.UnknownAggregatorType {
			return nil, fmt.Errorf("policy file %s: state %s: unknown aggregator %q", path, code, p.AggregatorName)
		}
		if p.GeofenceRadiusMeters <= 0 {
			return nil, fmt.Errorf("policy file %s: state %s: non-positive geofence radius", path, code)
		}
		rows[code] = p
	}
	return rows, nil
}
