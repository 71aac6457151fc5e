package metrics

import (
	"math"

	"github.com/vpbank/proxymon/models"
)

// InterfaceTrafficKey is the reserved threshold entry applied to every
// interface's in/out rate.
const InterfaceTrafficKey = "interface_traffic"

// Thresholds maps a metric name to its warning/critical pair.
type Thresholds map[string]models.ThresholdPair

// DefaultThresholds returns the built-in pairs used for any metric the
// configuration leaves out.
func DefaultThresholds() Thresholds {
	return Thresholds{
		"cpu":               {Warning: 70, Critical: 90},
		"mem":               {Warning: 70, Critical: 90},
		"cc":                {Warning: 10000, Critical: 50000},
		"cs":                {Warning: 10000, Critical: 50000},
		"http":              {Warning: 1e9, Critical: 5e9},
		"https":             {Warning: 1e9, Critical: 5e9},
		"ftp":               {Warning: 1e9, Critical: 5e9},
		InterfaceTrafficKey: {Warning: 1e9, Critical: 5e9},
	}
}

// fallbackPair applies to metric names without a built-in default. It never
// leaves Normal.
var fallbackPair = models.ThresholdPair{Warning: math.Inf(1), Critical: math.Inf(1)}

// Lookup returns the configured pair for name, then the built-in default,
// then a pair that always classifies as Normal.
func (t Thresholds) Lookup(name string) models.ThresholdPair {
	if p, ok := t[name]; ok {
		return p
	}
	if p, ok := DefaultThresholds()[name]; ok {
		return p
	}
	return fallbackPair
}

// WithDefaults returns a copy of t where every built-in metric has a pair.
func (t Thresholds) WithDefaults() Thresholds {
	out := DefaultThresholds()
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Classifier
// ─────────────────────────────────────────────────────────────────────────────

// Classify maps value onto a tier: below warning is Normal, from warning up to
// (not including) critical is Warning, critical and above is Critical.
//
// An inverted pair (warning > critical) is not rejected: any value at or above
// critical is Critical, so the Warning tier is never reached.
func Classify(value float64, p models.ThresholdPair) models.Tier {
	switch {
	case value >= p.Critical:
		return models.TierCritical
	case value >= p.Warning:
		return models.TierWarning
	default:
		return models.TierNormal
	}
}

// ClassifyPair classifies the larger of two directional readings.
func ClassifyPair(in, out float64, p models.ThresholdPair) models.Tier {
	return Classify(math.Max(in, out), p)
}
