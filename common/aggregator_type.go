package common

import "strings"

// AggregatorType ... state-designated EVV aggregator platform
type AggregatorType uint8

const (
	SandataAggregatorType AggregatorType = iota
	HHAeXchangeAggregatorType
	TellusAggregatorType

	UnknownAggregatorType
)

func (a AggregatorType) String() string {
	switch a {
	case SandataAggregatorType:
		return "Sandata"
	case HHAeXchangeAggregatorType:
		return "HHAeXchange"
	case TellusAggregatorType:
		return "Tellus"
	case UnknownAggregatorType:
		fallthrough
	default:
		return "Unknown"
	}
}

func StringToAggregatorType(s string) AggregatorType {
	switch strings.ToLower(s) {
	case "sandata":
		return SandataAggregatorType
	case "hhaexchange":
		return HHAeXchangeAggregatorType
	case "tellus":
		return TellusAggregatorType
	default:
		return UnknownAggregatorType
	}
}
