package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	// moveDueScript mirrors DeferredMember's "base|member" encoding
	moveDueScript = redis.NewScript(`
local entries = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, entry in ipairs(entries) do
	redis.call("ZREM", KEYS[1], entry)
	local sep = string.find(entry, "|", 1, true)
	if sep then
		local base = tonumber(string.sub(entry, 1, sep - 1))
		if base then
			local seq = redis.call("INCR", KEYS[3])
			redis.call("ZADD", KEYS[2], base - seq, string.sub(entry, sep + 1))
		end
	end
end
return #entries
`)
)

// RedisConfig configures the Redis-backed store
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Namespace   string        `mapstructure:"namespace"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Redis implements Store on a Redis server
type Redis struct {
	client    *redis.Client
	namespace string
	logger    *zap.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	logger.Named("store").Info("Connected to redis",
		zap.String("addr", cfg.Addr),
		zap.String("namespace", cfg.Namespace))

	return NewRedisFromClient(client, cfg.Namespace, logger), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, namespace string, logger *zap.Logger) *Redis {
	return &Redis{
		client:    client,
		namespace: namespace,
		logger:    logger.Named("store"),
	}
}

// Client exposes the underlying connection for components sharing it
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) HSet(ctx context.Context, key, field string, value []byte) error {
	return r.client.HSet(ctx, r.key(key), field, value).Err()
}

func (r *Redis) HGet(ctx context.Context, key, field string) ([]byte, error) {
	data, err := r.client.HGet(ctx, r.key(key), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	values, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(values))
	for f, v := range values {
		out[f] = []byte(v)
	}
	return out, nil
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HDel(ctx, r.key(key), fields...).Err()
}

// IncrByFloat runs INCRBYFLOAT and EXPIRE in one MULTI/EXEC round trip
func (r *Redis) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	k := r.key(key)
	pipe := r.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, k, delta)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *Redis) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := r.client.Get(ctx, r.key(key)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.key(key)).Result()
}

func (r *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *Redis) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.client, []string{r.key(key)}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, r.key(key), redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZPopMax(ctx context.Context, key string) (string, float64, error) {
	zs, err := r.client.ZPopMax(ctx, r.key(key), 1).Result()
	if err != nil {
		return "", 0, err
	}
	if len(zs) == 0 {
		return "", 0, ErrEmpty
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return "", 0, fmt.Errorf("unexpected member type %T", zs[0].Member)
	}
	return member, zs[0].Score, nil
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.ZRem(ctx, r.key(key), args...).Err()
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, r.key(key)).Result()
}

func (r *Redis) ZMoveDue(ctx context.Context, src, dst, seqKey string, max float64, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	keys := []string{r.key(src), r.key(dst), r.key(seqKey)}
	return moveDueScript.Run(ctx, r.client, keys, strconv.FormatFloat(max, 'f', -1, 64), limit).Int64()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
