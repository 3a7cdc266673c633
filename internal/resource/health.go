package resource

import (
	"time"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// HealthConfig configures provider health tracking
type HealthConfig struct {
	Window           int           `mapstructure:"window"`
	MinSamples       int           `mapstructure:"min_samples"`
	DegradedBelow    float64       `mapstructure:"degraded_below"`
	UnavailableBelow float64       `mapstructure:"unavailable_below"`
	RecoveryAfter    time.Duration `mapstructure:"recovery_after"`
	Interval         time.Duration `mapstructure:"interval"`
}

// DefaultHealthConfig demotes below 80% and 50% success over the last 50 requests
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Window:           50,
		MinSamples:       5,
		DegradedBelow:    0.8,
		UnavailableBelow: 0.5,
		RecoveryAfter:    5 * time.Minute,
		Interval:         30 * time.Second,
	}
}

// healthWindow is a ring of recent outcomes for one provider
type healthWindow struct {
	outcomes []bool
	next     int
	filled   int

	status model.ProviderHealth
	since  time.Time
}

func newHealthWindow(size int) *healthWindow {
	return &healthWindow{outcomes: make([]bool, size), status: model.ProviderHealthy}
}

func (h *healthWindow) record(success bool) {
	h.outcomes[h.next] = success
	h.next = (h.next + 1) % len(h.outcomes)
	if h.filled < len(h.outcomes) {
		h.filled++
	}
}

func (h *healthWindow) successRate() (float64, int) {
	if h.filled == 0 {
		return 1, 0
	}
	ok := 0
	for i := 0; i < h.filled; i++ {
		if h.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(h.filled), h.filled
}

func (h *healthWindow) reset() {
	h.next, h.filled = 0, 0
}

// evaluate derives the next status; it returns true when the status changed
func (h *healthWindow) evaluate(cfg HealthConfig, now time.Time) bool {
	prev := h.status

	if h.status == model.ProviderUnavailable && now.Sub(h.since) >= cfg.RecoveryAfter {
		h.reset()
		h.status = model.ProviderDegraded
		h.since = now
		return true
	}

	rate, n := h.successRate()
	if n < cfg.MinSamples {
		return false
	}

	switch {
	case rate < cfg.UnavailableBelow:
		h.status = model.ProviderUnavailable
	case rate < cfg.DegradedBelow:
		h.status = model.ProviderDegraded
	default:
		h.status = model.ProviderHealthy
	}

	if h.status != prev {
		h.since = now
		return true
	}
	return false
}

func healthScore(s model.ProviderHealth) float64 {
	switch s {
	case model.ProviderHealthy:
		return 1
	case model.ProviderDegraded:
		return 0.5
	case model.ProviderUnavailable:
		return 0
	default:
		return 0
	}
}
