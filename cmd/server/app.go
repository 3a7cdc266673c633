package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/config"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/coordinator"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/handler"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/monitor"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/storage"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/swarm"
)

// app holds the wired components of one process
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store     store.Store
	redis     *store.Redis
	nats      *bus.NATS
	publisher bus.Publisher
	pool      *pool.Pool
	resources *resource.Manager
	history   *storage.SQLiteHistory
	collector *monitor.Collector

	coordinator *coordinator.Coordinator
	// swarms is nil when no runner endpoint is configured
	swarms *swarm.Coordinator
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, publisher: bus.Nop{}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	switch cfg.Store.Backend {
	case config.BackendRedis:
		r, err := store.NewRedis(ctx, cfg.Store.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.redis = r
		a.store = r
	default:
		logger.Warn("Using in-process store; state is not shared between instances")
		a.store = store.NewMemory()
	}

	if cfg.NATS.Enabled {
		nc, err := bus.Connect(ctx, cfg.NATS.Config, logger)
		if err != nil {
			return nil, err
		}
		a.nats = nc
		a.publisher = nc
	}

	a.pool = pool.New(logger,
		pool.WithScoreWeights(cfg.Pool.Weights),
		pool.WithBreakerConfig(cfg.Pool.Breaker))
	if err := registerAgents(a.pool, cfg.Pool.Agents); err != nil {
		return nil, err
	}

	catalog, err := config.LoadCatalog(cfg.Resource.CatalogFile)
	if err != nil {
		return nil, err
	}
	a.resources, err = resource.New(cfg.Resource.Config, a.store, catalog, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}

	a.collector = monitor.NewCollector(cfg.Monitor.Source, a.publisher, cfg.Monitor.Interval, logger)

	opts := []coordinator.Option{
		coordinator.WithResources(a.resources),
		coordinator.WithSink(a.collector),
		coordinator.WithPublisher(a.publisher),
	}
	if cfg.History.Enabled {
		a.history, err = storage.NewSQLiteHistory(logger, cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		opts = append(opts, coordinator.WithHistory(a.history))
	}
	a.coordinator = coordinator.New(cfg.Coordinator, a.store, a.pool, logger, opts...)

	var cache handler.Cache = handler.NopCache{}
	if cfg.Cache.Enabled {
		cache = handler.NewRedisCache(a.redis.Client(), cfg.Cache.Prefix)
	}
	for agentType, hc := range cfg.Handlers {
		var h coordinator.Handler = handler.NewHTTP(hc, logger)
		if cfg.Cache.Enabled {
			h = handler.Cached(h, cache, cfg.Cache.TTL, logger)
		}
		a.coordinator.RegisterHandler(agentType, h)
	}

	if cfg.Runner.Endpoint != "" {
		a.swarms = swarm.NewCoordinator(cfg.Swarm, a.store, a.pool, handler.NewHTTPRunner(cfg.Runner, logger), logger,
			swarm.WithResources(a.resources),
			swarm.WithSink(a.collector),
			swarm.WithPublisher(a.publisher))
	}
	return a, nil
}

// registerAgents expands each entry into Count agents named type-provider-N
func registerAgents(p *pool.Pool, agents []config.AgentConfig) error {
	for _, ac := range agents {
		count := max(1, ac.Count)
		maxConc := max(1, ac.MaxConcurrent)
		for i := 1; i <= count; i++ {
			agent := &model.AgentInstance{
				ID:            fmt.Sprintf("%s-%s-%d", ac.Type, ac.Provider, i),
				Type:          ac.Type,
				Provider:      ac.Provider,
				Model:         ac.Model,
				MaxConcurrent: maxConc,
				Capabilities:  ac.Capabilities,
			}
			if err := p.Register(agent); err != nil {
				return fmt.Errorf("failed to register agent %s: %w", agent.ID, err)
			}
		}
	}
	return nil
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close history", zap.Error(err))
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close store", zap.Error(err))
		}
	}
}
