package store

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memValue struct {
	str      []byte
	hash     map[string][]byte
	zset     map[string]float64
	expireAt time.Time
}

// Memory is an in-process Store for single-instance deployments and tests
type Memory struct {
	mu   sync.Mutex
	data map[string]*memValue
	now  func() time.Time
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]*memValue),
		now:  time.Now,
	}
}

// SetClock overrides the clock used for TTL expiry
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// get returns a live value, dropping it when expired. Must be called with lock held.
func (m *Memory) get(key string) *memValue {
	v, ok := m.data[key]
	if !ok {
		return nil
	}
	if !v.expireAt.IsZero() && !m.now().Before(v.expireAt) {
		delete(m.data, key)
		return nil
	}
	return v
}

func (m *Memory) getOrCreate(key string) *memValue {
	v := m.get(key)
	if v == nil {
		v = &memValue{}
		m.data[key] = v
	}
	return v
}

func (m *Memory) HSet(ctx context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.getOrCreate(key)
	if v.hash == nil {
		v.hash = make(map[string][]byte)
	}
	v.hash[field] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) HGet(ctx context.Context, key, field string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil || v.hash == nil {
		return nil, ErrNotFound
	}
	data, ok := v.hash[field]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	v := m.get(key)
	if v == nil {
		return out, nil
	}
	for f, data := range v.hash {
		out[f] = append([]byte(nil), data...)
	}
	return out, nil
}

func (m *Memory) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil {
		return nil
	}
	for _, f := range fields {
		delete(v.hash, f)
	}
	if len(v.hash) == 0 && v.zset == nil && v.str == nil {
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.getOrCreate(key)
	current, err := parseFloat(v.str)
	if err != nil {
		return 0, err
	}
	current += delta
	v.str = []byte(strconv.FormatFloat(current, 'f', -1, 64))
	if ttl > 0 {
		v.expireAt = m.now().Add(ttl)
	}
	return current, nil
}

func (m *Memory) GetFloat(ctx context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil {
		return 0, nil
	}
	return parseFloat(v.str)
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(key)
}

func (m *Memory) incrLocked(key string) (int64, error) {
	v := m.getOrCreate(key)
	var current int64
	if len(v.str) > 0 {
		n, err := strconv.ParseInt(string(v.str), 10, 64)
		if err != nil {
			return 0, err
		}
		current = n
	}
	current++
	v.str = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

func (m *Memory) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.get(key) != nil {
		return false, nil
	}
	v := &memValue{str: append([]byte{}, value...)}
	if ttl > 0 {
		v.expireAt = m.now().Add(ttl)
	}
	m.data[key] = v
	return true, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil || v.str == nil || !bytes.Equal(v.str, value) {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.getOrCreate(key)
	if v.zset == nil {
		v.zset = make(map[string]float64)
	}
	v.zset[member] = score
	return nil
}

func (m *Memory) ZPopMax(ctx context.Context, key string) (string, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil || len(v.zset) == 0 {
		return "", 0, ErrEmpty
	}

	var (
		best      string
		bestScore float64
		found     bool
	)
	for member, score := range v.zset {
		// Redis orders equal scores lexicographically; ZPOPMAX takes the last
		if !found || score > bestScore || (score == bestScore && member > best) {
			best, bestScore, found = member, score, true
		}
	}
	delete(v.zset, best)
	return best, bestScore, nil
}

func (m *Memory) ZRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil {
		return nil
	}
	for _, member := range members {
		delete(v.zset, member)
	}
	return nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(key)
	if v == nil {
		return 0, nil
	}
	return int64(len(v.zset)), nil
}

func (m *Memory) ZMoveDue(ctx context.Context, src, dst, seqKey string, max float64, limit int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(src)
	if v == nil || len(v.zset) == 0 || limit <= 0 {
		return 0, nil
	}

	type entry struct {
		member string
		score  float64
	}
	var due []entry
	for member, score := range v.zset {
		if score <= max {
			due = append(due, entry{member, score})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].score != due[j].score {
			return due[i].score < due[j].score
		}
		return due[i].member < due[j].member
	})
	if int64(len(due)) > limit {
		due = due[:limit]
	}

	for _, e := range due {
		delete(v.zset, e.member)
		base, member, err := SplitDeferredMember(e.member)
		if err != nil {
			continue
		}
		seq, err := m.incrLocked(seqKey)
		if err != nil {
			return 0, err
		}
		d := m.getOrCreate(dst)
		if d.zset == nil {
			d.zset = make(map[string]float64)
		}
		d.zset[member] = base - float64(seq)
	}
	return int64(len(due)), nil
}

func (m *Memory) Close() error { return nil }

func parseFloat(b []byte) (float64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return strconv.ParseFloat(string(b), 64)
}
