package resource

import "math"

// ProviderWeights configures provider/model pair scoring
type ProviderWeights struct {
	Cost        float64 `mapstructure:"cost"`
	Performance float64 `mapstructure:"performance"`
	Priority    float64 `mapstructure:"priority"`
	Load        float64 `mapstructure:"load"`
	Health      float64 `mapstructure:"health"`
	Capability  float64 `mapstructure:"capability"`

	// CostCeiling normalises cost per 1K units when the request sets no max cost
	CostCeiling float64 `mapstructure:"cost_ceiling"`
	// LatencyCeiling in seconds; average latency at or above scores zero
	LatencyCeiling float64 `mapstructure:"latency_ceiling"`
}

// DefaultProviderWeights returns the stock routing weights
func DefaultProviderWeights() ProviderWeights {
	return ProviderWeights{
		Cost:           0.25,
		Performance:    0.25,
		Priority:       0.15,
		Load:           0.15,
		Health:         0.15,
		Capability:     0.05,
		CostCeiling:    0.10,
		LatencyCeiling: 10,
	}
}

// Components are the per-pair sub-scores, each in [0, 1]
type Components struct {
	Cost        float64
	Performance float64
	Priority    float64
	Load        float64
	Health      float64
	Capability  float64
}

// Score combines components into a single rating; higher is better
func (w ProviderWeights) Score(c Components) float64 {
	return w.Cost*clamp01(c.Cost) +
		w.Performance*clamp01(c.Performance) +
		w.Priority*clamp01(c.Priority) +
		w.Load*clamp01(c.Load) +
		w.Health*clamp01(c.Health) +
		w.Capability*clamp01(c.Capability)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
