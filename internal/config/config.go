// Package config loads the server configuration from a YAML file, built-in
// defaults and AGENTCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/coordinator"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/handler"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/swarm"
)

// EnvPrefix prefixes every environment override, e.g. AGENTCORE_REDIS_ADDR
const EnvPrefix = "AGENTCORE"

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all server configuration
type Config struct {
	Log         LogConfig                     `mapstructure:"log"`
	Store       StoreConfig                   `mapstructure:"store"`
	NATS        NATSConfig                    `mapstructure:"nats"`
	History     HistoryConfig                 `mapstructure:"history"`
	Monitor     MonitorConfig                 `mapstructure:"monitor"`
	Pool        PoolConfig                    `mapstructure:"pool"`
	Resource    ResourceConfig                `mapstructure:"resource"`
	Coordinator coordinator.Config            `mapstructure:"coordinator"`
	Swarm       swarm.CoordinatorConfig       `mapstructure:"swarm"`
	Handlers    map[string]handler.HTTPConfig `mapstructure:"handlers"`
	Runner      handler.HTTPConfig            `mapstructure:"runner"`
	Cache       CacheConfig                   `mapstructure:"cache"`
}

// LogConfig selects the zap preset
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StoreConfig selects the state backend
type StoreConfig struct {
	Backend string            `mapstructure:"backend"`
	Redis   store.RedisConfig `mapstructure:"redis"`
}

// NATSConfig configures event publishing; disabled publishes nowhere
type NATSConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	bus.Config `mapstructure:",squash"`
}

// HistoryConfig configures the execution history database
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// MonitorConfig configures the metrics collector
type MonitorConfig struct {
	Source   string        `mapstructure:"source"`
	Interval time.Duration `mapstructure:"interval"`
}

// PoolConfig configures agent selection and the agents to register at start
type PoolConfig struct {
	Weights pool.ScoreWeights  `mapstructure:"weights"`
	Breaker pool.BreakerConfig `mapstructure:"breaker"`
	Agents  []AgentConfig      `mapstructure:"agents"`
}

// AgentConfig declares Count identical agents
type AgentConfig struct {
	Type          string   `mapstructure:"type"`
	Provider      string   `mapstructure:"provider"`
	Model         string   `mapstructure:"model"`
	MaxConcurrent int      `mapstructure:"max_concurrent"`
	Capabilities  []string `mapstructure:"capabilities"`
	Count         int      `mapstructure:"count"`
}

// ResourceConfig configures provider routing and where the catalog lives
type ResourceConfig struct {
	resource.Config `mapstructure:",squash"`
	CatalogFile     string `mapstructure:"catalog_file"`
	WatchCatalog    bool   `mapstructure:"watch_catalog"`
}

// CacheConfig configures the handler result cache; it needs the redis backend
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis: store.RedisConfig{
				Addr:        "localhost:6379",
				Namespace:   "agentcore",
				DialTimeout: 5 * time.Second,
			},
		},
		NATS: NATSConfig{
			Config: bus.Config{
				URL:            "nats://localhost:4222",
				Name:           "agentcore",
				MaxReconnects:  -1,
				ReconnectWait:  2 * time.Second,
				ConnectTimeout: 5 * time.Second,
				ConnectRetries: 3,
			},
		},
		History: HistoryConfig{DSN: "history.db"},
		Monitor: MonitorConfig{Source: "agentcore", Interval: 15 * time.Second},
		Pool: PoolConfig{
			Weights: pool.DefaultScoreWeights(),
			Breaker: pool.DefaultBreakerConfig(),
		},
		Resource:    ResourceConfig{Config: resource.DefaultConfig()},
		Coordinator: coordinator.DefaultConfig(),
		Swarm:       swarm.DefaultCoordinatorConfig(),
		Handlers:    map[string]handler.HTTPConfig{},
		Cache:       CacheConfig{TTL: time.Hour, Prefix: "result-cache"},
	}
}

// Load reads path when set, otherwise ./agentcore.yaml if present, then
// applies environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Cache.Enabled && c.Store.Backend != BackendRedis {
		return errors.New("result cache requires the redis store backend")
	}
	for i, a := range c.Pool.Agents {
		if a.Type == "" || a.Provider == "" || a.Model == "" {
			return fmt.Errorf("pool.agents[%d]: type, provider and model are required", i)
		}
	}
	for agentType, h := range c.Handlers {
		if h.Endpoint == "" {
			return fmt.Errorf("handlers.%s: endpoint is required", agentType)
		}
	}
	return nil
}

// setDefaults registers the keys that environment variables may override.
// Anything else falls back to Default through Unmarshal.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.development", def.Log.Development)

	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.redis.addr", def.Store.Redis.Addr)
	v.SetDefault("store.redis.password", def.Store.Redis.Password)
	v.SetDefault("store.redis.db", def.Store.Redis.DB)
	v.SetDefault("store.redis.namespace", def.Store.Redis.Namespace)

	v.SetDefault("nats.enabled", def.NATS.Enabled)
	v.SetDefault("nats.url", def.NATS.URL)
	v.SetDefault("nats.name", def.NATS.Name)

	v.SetDefault("history.enabled", def.History.Enabled)
	v.SetDefault("history.dsn", def.History.DSN)

	v.SetDefault("monitor.interval", def.Monitor.Interval)

	v.SetDefault("resource.catalog_file", def.Resource.CatalogFile)
	v.SetDefault("resource.watch_catalog", def.Resource.WatchCatalog)
	v.SetDefault("resource.budget.daily_limit", def.Resource.Budget.DailyLimit)
	v.SetDefault("resource.budget.hourly_limit", def.Resource.Budget.HourlyLimit)
	v.SetDefault("resource.budget.user_daily_limit", def.Resource.Budget.UserDailyLimit)
	v.SetDefault("resource.budget.per_request_max", def.Resource.Budget.PerRequestMax)

	v.SetDefault("coordinator.instance_id", def.Coordinator.InstanceID)
	v.SetDefault("coordinator.workers", def.Coordinator.Workers)

	v.SetDefault("runner.endpoint", def.Runner.Endpoint)

	v.SetDefault("cache.enabled", def.Cache.Enabled)
	v.SetDefault("cache.ttl", def.Cache.TTL)
}
