package pool

import (
	"math"
	"time"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// ScoreWeights configures agent selection scoring
type ScoreWeights struct {
	SuccessRate  float64 `mapstructure:"success_rate"`
	Load         float64 `mapstructure:"load"`
	ResponseTime float64 `mapstructure:"response_time"`
	Cost         float64 `mapstructure:"cost"`
	Recency      float64 `mapstructure:"recency"`

	// Normalisation ceilings; values at or above score zero
	ResponseTimeCeiling time.Duration `mapstructure:"response_time_ceiling"`
	CostCeiling         float64       `mapstructure:"cost_ceiling"`
	RecencyWindow       time.Duration `mapstructure:"recency_window"`
}

// DefaultScoreWeights returns the stock selection weights
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		SuccessRate:         0.30,
		Load:                0.25,
		ResponseTime:        0.20,
		Cost:                0.15,
		Recency:             0.10,
		ResponseTimeCeiling: 10 * time.Second,
		CostCeiling:         0.10,
		RecencyWindow:       24 * time.Hour,
	}
}

// Score rates an agent for selection; higher is better
func (w ScoreWeights) Score(a *model.AgentInstance, now time.Time) float64 {
	load := 0.0
	if a.MaxConcurrent > 0 {
		load = 1 - float64(a.CurrentLoad)/float64(a.MaxConcurrent)
	}

	latency := 1.0
	if w.ResponseTimeCeiling > 0 {
		latency = math.Max(0, 1-float64(a.Metrics.AvgResponseTime)/float64(w.ResponseTimeCeiling))
	}

	cost := 1.0
	if w.CostCeiling > 0 {
		cost = math.Max(0, 1-a.Metrics.AvgCost/w.CostCeiling)
	}

	recency := 0.0
	if !a.Metrics.LastActivity.IsZero() && w.RecencyWindow > 0 {
		recency = math.Max(0, 1-float64(now.Sub(a.Metrics.LastActivity))/float64(w.RecencyWindow))
	}

	return w.SuccessRate*a.Metrics.SuccessRate +
		w.Load*load +
		w.ResponseTime*latency +
		w.Cost*cost +
		w.Recency*recency
}
