// Package resource routes work to providers and models under rate limits
// and spend ceilings, tracking provider health from observed outcomes.
package resource

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

const emaAlpha = 0.1

// Config configures the resource manager
type Config struct {
	Budget         model.BudgetConfig `mapstructure:"budget"`
	Weights        ProviderWeights    `mapstructure:"weights"`
	Health         HealthConfig       `mapstructure:"health"`
	RequestLogSize int                `mapstructure:"request_log_size"`
}

// DefaultConfig returns unlimited budgets with stock weights
func DefaultConfig() Config {
	return Config{
		Weights:        DefaultProviderWeights(),
		Health:         DefaultHealthConfig(),
		RequestLogSize: 1000,
	}
}

// Request describes what a caller needs routed
type Request struct {
	Role         string
	Capabilities []string
	// MaxCost caps the model cost per 1K units; zero means no cap
	MaxCost float64
	UserID  string
	Exclude []string
	// EstimatedTokens, when set, fills ProviderSelection.EstimatedCost
	EstimatedTokens int
}

// Record is one completed provider request
type Record struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Cost         float64       `json:"cost"`
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"response_time"`
	UserID       string        `json:"user_id,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ModelMetrics are rolling figures for one provider/model pair
type ModelMetrics struct {
	Requests        int64         `json:"requests"`
	Successes       int64         `json:"successes"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	AvgCost         float64       `json:"avg_cost"`
	TotalCost       float64       `json:"total_cost"`
}

// SuccessRate returns the observed success rate, 1 with no data
func (m ModelMetrics) SuccessRate() float64 {
	if m.Requests == 0 {
		return 1
	}
	return float64(m.Successes) / float64(m.Requests)
}

type providerState struct {
	cfg     model.ProviderConfig
	buckets []*TokenBucket
	health  *healthWindow
	metrics map[string]*ModelMetrics
}

// Manager owns the provider catalog, rate limiters, budgets and health
type Manager struct {
	logger    *zap.Logger
	cfg       Config
	store     store.Store
	now       func() time.Time
	mu        sync.Mutex
	providers map[string]*providerState
	log       []Record
	stop      chan struct{}
	stopOnce  sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager seeded with the given catalog
func New(cfg Config, st store.Store, catalog []model.ProviderConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.Weights == (ProviderWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Health.Window <= 0 {
		cfg.Health = def.Health
	}
	if cfg.RequestLogSize <= 0 {
		cfg.RequestLogSize = def.RequestLogSize
	}

	m := &Manager{
		logger:    logger.Named("resource-manager"),
		cfg:       cfg,
		store:     st,
		now:       time.Now,
		providers: make(map[string]*providerState),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, p := range catalog {
		if err := m.RegisterProvider(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Start runs the periodic health check
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting resource manager",
		zap.Int("providers", len(m.Providers())),
		zap.Duration("health_interval", m.cfg.Health.Interval))

	go m.healthLoop(ctx)
	return nil
}

// Stop stops the health loop
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping resource manager")
		close(m.stop)
	})
}

func (m *Manager) healthLoop(ctx context.Context) {
	interval := m.cfg.Health.Interval
	if interval <= 0 {
		interval = DefaultHealthConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.HealthCheck()
		}
	}
}

// RegisterProvider adds or replaces a catalog entry. Metrics and health
// survive a reload; rate buckets are rebuilt only when limits change.
func (m *Manager) RegisterProvider(p model.ProviderConfig) error {
	if p.Name == "" || len(p.Models) == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, p.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := p
	cfg.Models = make(map[string]model.ModelSpec, len(p.Models))
	for name, spec := range p.Models {
		spec.Capabilities = append([]string(nil), spec.Capabilities...)
		cfg.Models[name] = spec
	}

	if st, ok := m.providers[p.Name]; ok {
		if st.cfg.RateLimits != p.RateLimits {
			st.buckets = m.newBuckets(p.RateLimits)
		}
		st.cfg = cfg
		m.logger.Info("Provider reloaded", zap.String("provider", p.Name), zap.Int("models", len(p.Models)))
		return nil
	}

	m.providers[p.Name] = &providerState{
		cfg:     cfg,
		buckets: m.newBuckets(p.RateLimits),
		health:  newHealthWindow(m.cfg.Health.Window),
		metrics: make(map[string]*ModelMetrics),
	}
	m.logger.Info("Provider registered",
		zap.String("provider", p.Name),
		zap.Int("models", len(p.Models)),
		zap.Float64("priority", p.Priority))
	return nil
}

func (m *Manager) newBuckets(limits model.RateLimitConfig) []*TokenBucket {
	var buckets []*TokenBucket
	if limits.RequestsPerMinute > 0 {
		buckets = append(buckets, NewTokenBucket(limits.RequestsPerMinute, time.Minute, m.now))
	}
	if limits.RequestsPerHour > 0 {
		buckets = append(buckets, NewTokenBucket(limits.RequestsPerHour, time.Hour, m.now))
	}
	if limits.RequestsPerDay > 0 {
		buckets = append(buckets, NewTokenBucket(limits.RequestsPerDay, 24*time.Hour, m.now))
	}
	return buckets
}

// SelectOptimalProvider picks the best provider/model pair for the request
// and charges one request against the winner's rate limits.
func (m *Manager) SelectOptimalProvider(ctx context.Context, req Request) (*model.ProviderSelection, error) {
	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, name := range req.Exclude {
		excluded[name] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		best        *model.ProviderSelection
		bestState   *providerState
		rateLimited int
		candidates  int
	)

	for _, name := range m.sortedNamesLocked() {
		st := m.providers[name]
		if _, skip := excluded[name]; skip || st.cfg.Disabled {
			continue
		}
		if st.health.status == model.ProviderUnavailable {
			continue
		}
		candidates++
		if !st.admissible() {
			rateLimited++
			continue
		}

		for _, modelName := range sortedModels(st.cfg.Models) {
			spec := st.cfg.Models[modelName]
			if !spec.HasCapabilities(req.Capabilities) {
				continue
			}
			if req.MaxCost > 0 && spec.CostPer1K > req.MaxCost {
				continue
			}

			score := m.cfg.Weights.Score(m.components(st, modelName, spec, req))
			if best == nil || score > best.Score {
				best = &model.ProviderSelection{
					Provider:  name,
					Model:     modelName,
					Score:     score,
					CostPer1K: spec.CostPer1K,
				}
				bestState = st
			}
		}
	}

	if best == nil {
		if candidates > 0 && rateLimited == candidates {
			return nil, fmt.Errorf("%w: all %d candidate providers exhausted", ErrRateLimited, candidates)
		}
		return nil, fmt.Errorf("%w: role=%s capabilities=%v", ErrNoProvider, req.Role, req.Capabilities)
	}

	bestState.consume()
	if req.EstimatedTokens > 0 {
		best.EstimatedCost = float64(req.EstimatedTokens) / 1000 * best.CostPer1K
	}

	m.logger.Debug("Provider selected",
		zap.String("role", req.Role),
		zap.String("provider", best.Provider),
		zap.String("model", best.Model),
		zap.Float64("score", best.Score))
	return best, nil
}

// Admit charges one request against a provider's rate limits when the
// caller already knows which provider it will use. Unknown providers have
// no limits and are admitted.
func (m *Manager) Admit(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.providers[provider]
	if !ok {
		return nil
	}
	if st.health.status == model.ProviderUnavailable {
		return fmt.Errorf("%w: %s is unavailable", ErrNoProvider, provider)
	}
	if !st.admissible() {
		return fmt.Errorf("%w: %s", ErrRateLimited, provider)
	}
	st.consume()
	return nil
}

func (m *Manager) components(st *providerState, modelName string, spec model.ModelSpec, req Request) Components {
	w := m.cfg.Weights

	ceiling := req.MaxCost
	if ceiling <= 0 {
		ceiling = w.CostCeiling
	}
	cost := 1.0
	if ceiling > 0 {
		cost = 1 - spec.CostPer1K/ceiling
	}

	perf := 1.0
	latency := 1.0
	if mm, ok := st.metrics[modelName]; ok && mm.Requests > 0 {
		if w.LatencyCeiling > 0 {
			latency = math.Max(0, 1-mm.AvgResponseTime.Seconds()/w.LatencyCeiling)
		}
		perf = 0.5*mm.SuccessRate() + 0.5*latency
	}

	load := 1.0
	if len(st.buckets) > 0 {
		b := st.buckets[0]
		load = b.Tokens() / float64(b.Capacity())
	}

	wanted := len(req.Capabilities)
	matched := len(req.Capabilities)
	if req.Role != "" {
		wanted++
		if spec.HasCapability(req.Role) {
			matched++
		}
	}
	capability := 1.0
	if wanted > 0 {
		capability = float64(matched) / float64(wanted)
	}

	return Components{
		Cost:        cost,
		Performance: perf,
		Priority:    st.cfg.Priority / 10,
		Load:        load,
		Health:      healthScore(st.health.status),
		Capability:  capability,
	}
}

// RecordRequest folds a finished request into metrics, health, spend
// counters and the request log.
func (m *Manager) RecordRequest(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}

	m.mu.Lock()
	if st, ok := m.providers[rec.Provider]; ok {
		mm, ok := st.metrics[rec.Model]
		if !ok {
			mm = &ModelMetrics{}
			st.metrics[rec.Model] = mm
		}
		mm.Requests++
		if rec.Success {
			mm.Successes++
		}
		if mm.Requests == 1 {
			mm.AvgResponseTime = rec.ResponseTime
			mm.AvgCost = rec.Cost
		} else {
			mm.AvgResponseTime = time.Duration(emaAlpha*float64(rec.ResponseTime) + (1-emaAlpha)*float64(mm.AvgResponseTime))
			mm.AvgCost = emaAlpha*rec.Cost + (1-emaAlpha)*mm.AvgCost
		}
		mm.TotalCost += rec.Cost
		st.health.record(rec.Success)
	}

	m.log = append(m.log, rec)
	if over := len(m.log) - m.cfg.RequestLogSize; over > 0 {
		m.log = append(m.log[:0:0], m.log[over:]...)
	}
	m.mu.Unlock()

	if err := m.recordSpend(ctx, rec.Cost, rec.UserID); err != nil {
		m.logger.Error("Failed to record spend",
			zap.String("provider", rec.Provider),
			zap.Float64("cost", rec.Cost),
			zap.Error(err))
		return err
	}
	return nil
}

// HealthCheck re-derives every provider's health from its recent outcomes
func (m *Manager) HealthCheck() map[string]model.ProviderHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[string]model.ProviderHealth, len(m.providers))
	for name, st := range m.providers {
		prev := st.health.status
		if st.health.evaluate(m.cfg.Health, now) {
			rate, n := st.health.successRate()
			m.logger.Warn("Provider health changed",
				zap.String("provider", name),
				zap.String("from", string(prev)),
				zap.String("to", string(st.health.status)),
				zap.Float64("success_rate", rate),
				zap.Int("samples", n))
		}
		out[name] = st.health.status
	}
	return out
}

// Health returns a provider's current health
func (m *Manager) Health(provider string) (model.ProviderHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.providers[provider]
	if !ok {
		return "", false
	}
	return st.health.status, true
}

// Metrics returns the rolling figures for a provider/model pair
func (m *Manager) Metrics(provider, modelName string) (ModelMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.providers[provider]
	if !ok {
		return ModelMetrics{}, false
	}
	mm, ok := st.metrics[modelName]
	if !ok {
		return ModelMetrics{}, false
	}
	return *mm, true
}

// Providers returns the catalog ordered by name
func (m *Manager) Providers() []model.ProviderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.ProviderConfig, 0, len(m.providers))
	for _, name := range m.sortedNamesLocked() {
		out = append(out, m.providers[name].cfg)
	}
	return out
}

// RequestLog returns a copy of the most recent requests, oldest first
func (m *Manager) RequestLog() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.log...)
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedModels(models map[string]model.ModelSpec) []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// admissible peeks every window without consuming
func (st *providerState) admissible() bool {
	for _, b := range st.buckets {
		if !b.Available(1) {
			return false
		}
	}
	return true
}

func (st *providerState) consume() {
	for _, b := range st.buckets {
		b.Consume(1)
	}
}
