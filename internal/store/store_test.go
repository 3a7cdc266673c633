package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, "test", zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func stores(t *testing.T) map[string]Store {
	r, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  r,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Hash", func(t *testing.T) {
				require.NoError(t, s.HSet(ctx, "h", "a", []byte("1")))
				require.NoError(t, s.HSet(ctx, "h", "b", []byte("2")))

				v, err := s.HGet(ctx, "h", "a")
				require.NoError(t, err)
				assert.Equal(t, []byte("1"), v)

				_, err = s.HGet(ctx, "h", "missing")
				assert.ErrorIs(t, err, ErrNotFound)

				all, err := s.HGetAll(ctx, "h")
				require.NoError(t, err)
				assert.Len(t, all, 2)

				require.NoError(t, s.HDel(ctx, "h", "a"))
				all, err = s.HGetAll(ctx, "h")
				require.NoError(t, err)
				assert.Equal(t, map[string][]byte{"b": []byte("2")}, all)
			})

			t.Run("Counters", func(t *testing.T) {
				v, err := s.GetFloat(ctx, "c")
				require.NoError(t, err)
				assert.Zero(t, v)

				v, err = s.IncrByFloat(ctx, "c", 0.25, time.Hour)
				require.NoError(t, err)
				assert.InDelta(t, 0.25, v, 1e-9)

				v, err = s.IncrByFloat(ctx, "c", 0.5, time.Hour)
				require.NoError(t, err)
				assert.InDelta(t, 0.75, v, 1e-9)

				v, err = s.GetFloat(ctx, "c")
				require.NoError(t, err)
				assert.InDelta(t, 0.75, v, 1e-9)

				n, err := s.Incr(ctx, "seq")
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)
				n, err = s.Incr(ctx, "seq")
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)
			})

			t.Run("SetNX", func(t *testing.T) {
				ok, err := s.SetNX(ctx, "claim", []byte("x"), time.Hour)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.SetNX(ctx, "claim", []byte("y"), time.Hour)
				require.NoError(t, err)
				assert.False(t, ok)

				require.NoError(t, s.Del(ctx, "claim"))
				ok, err = s.SetNX(ctx, "claim", []byte("z"), time.Hour)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("CompareAndDelete", func(t *testing.T) {
				ok, err := s.SetNX(ctx, "lease", []byte("owner-a"), time.Hour)
				require.NoError(t, err)
				require.True(t, ok)

				deleted, err := s.CompareAndDelete(ctx, "lease", []byte("owner-b"))
				require.NoError(t, err)
				assert.False(t, deleted, "another owner's value is kept")

				deleted, err = s.CompareAndDelete(ctx, "lease", []byte("owner-a"))
				require.NoError(t, err)
				assert.True(t, deleted)

				deleted, err = s.CompareAndDelete(ctx, "lease", []byte("owner-a"))
				require.NoError(t, err)
				assert.False(t, deleted)

				ok, err = s.SetNX(ctx, "lease", []byte("owner-b"), time.Hour)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("ZMoveDue", func(t *testing.T) {
				require.NoError(t, s.ZAdd(ctx, "delayed", 100, DeferredMember(2e12, "wf/a")))
				require.NoError(t, s.ZAdd(ctx, "delayed", 50, DeferredMember(1e12, "wf/b")))
				require.NoError(t, s.ZAdd(ctx, "delayed", 300, DeferredMember(3e12, "wf/late")))
				require.NoError(t, s.ZAdd(ctx, "delayed", 10, "garbage"))

				moved, err := s.ZMoveDue(ctx, "delayed", "ready", "ready:seq", 200, 10)
				require.NoError(t, err)
				assert.Equal(t, int64(3), moved, "malformed entries are dropped too")

				n, err := s.ZCard(ctx, "delayed")
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)

				member, score, err := s.ZPopMax(ctx, "ready")
				require.NoError(t, err)
				assert.Equal(t, "wf/a", member)
				assert.Equal(t, 2e12-2, score, "wf/b moved first and took seq 1")

				member, score, err = s.ZPopMax(ctx, "ready")
				require.NoError(t, err)
				assert.Equal(t, "wf/b", member)
				assert.Equal(t, 1e12-1, score)

				_, _, err = s.ZPopMax(ctx, "ready")
				assert.ErrorIs(t, err, ErrEmpty)

				require.NoError(t, s.ZAdd(ctx, "delayed", 301, DeferredMember(1, "wf/x")))
				moved, err = s.ZMoveDue(ctx, "delayed", "ready", "ready:seq", 1000, 1)
				require.NoError(t, err)
				assert.Equal(t, int64(1), moved, "limit caps one step")

				member, _, err = s.ZPopMax(ctx, "ready")
				require.NoError(t, err)
				assert.Equal(t, "wf/late", member)
			})

			t.Run("SortedSet", func(t *testing.T) {
				require.NoError(t, s.ZAdd(ctx, "z", 1, "low"))
				require.NoError(t, s.ZAdd(ctx, "z", 3, "high"))
				require.NoError(t, s.ZAdd(ctx, "z", 2, "medium"))
				require.NoError(t, s.ZAdd(ctx, "z", 0, "gone"))
				require.NoError(t, s.ZRem(ctx, "z", "gone"))

				n, err := s.ZCard(ctx, "z")
				require.NoError(t, err)
				assert.Equal(t, int64(3), n)

				var order []string
				for {
					member, _, err := s.ZPopMax(ctx, "z")
					if err == ErrEmpty {
						break
					}
					require.NoError(t, err)
					order = append(order, member)
				}
				assert.Equal(t, []string{"high", "medium", "low"}, order)
			})
		})
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemory()
	s.SetClock(func() time.Time { return now })

	_, err := s.IncrByFloat(ctx, "c", 1, time.Hour)
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	v, err := s.GetFloat(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	now = now.Add(2 * time.Minute)
	v, err = s.GetFloat(ctx, "c")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestRedisTTLAndNamespace(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	_, err := s.IncrByFloat(ctx, "budget:daily:2026-01-01", 2.5, time.Hour)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:budget:daily:2026-01-01"))
	assert.Equal(t, time.Hour, mr.TTL("test:budget:daily:2026-01-01"))

	mr.FastForward(2 * time.Hour)
	v, err := s.GetFloat(ctx, "budget:daily:2026-01-01")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.IncrByFloat(ctx, "c", 1, 0)
			_, _ = s.Incr(ctx, "n")
		}()
	}
	wg.Wait()

	v, err := s.GetFloat(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

func TestBudgetKeys(t *testing.T) {
	ts := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "budget:daily:2026-10-14", DailyBudgetKey(ts))
	assert.Equal(t, "budget:hourly:2026-10-14T09", HourlyBudgetKey(ts))
	assert.Equal(t, "budget:user:u1:daily:2026-10-14", UserDailyBudgetKey("u1", ts))
	assert.Equal(t, "workflow:wf:tasks", WorkflowTasksKey("wf"))
	assert.Equal(t, "workflow:wf:claim", WorkflowClaimKey("wf"))
	assert.Equal(t, "workflow:wf:lock", WorkflowLockKey("wf"))
}

func TestDeferredMember(t *testing.T) {
	entry := DeferredMember(3e12, "wf/task")
	assert.Equal(t, "3000000000000|wf/task", entry)

	base, member, err := SplitDeferredMember(entry)
	require.NoError(t, err)
	assert.Equal(t, 3e12, base)
	assert.Equal(t, "wf/task", member)

	for _, bad := range []string{"", "nobar", "x|wf/task", "1|"} {
		_, _, err := SplitDeferredMember(bad)
		assert.Error(t, err, bad)
	}
}
