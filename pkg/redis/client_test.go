package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
)

func TestFixedWindowAllowArmsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	fake := newFakeBackend()
	client := &Client{rdb: fake}

	for i := 1; i <= 3; i++ {
		allowed, count, err := client.FixedWindowAllow(ctx, "payments:ip:10.0.0.1", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
		assert.Equal(t, i <= 2, allowed)
	}
	key := "gridpay:rl:payments:ip:10.0.0.1"
	assert.Equal(t, []time.Duration{time.Minute}, fake.expiries[key])
}

func TestReleaseIfOwner(t *testing.T) {
	ctx := context.Background()
	fake := newFakeBackend()
	client := &Client{rdb: fake}
	key := client.LockKey("cron-worker", "prod")

	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := client.ReleaseIfOwner(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = client.ReleaseIfOwner(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestSetNXRejectsExistingKey(t *testing.T) {
	ctx := context.Background()
	client := &Client{rdb: newFakeBackend()}
	key := client.IdempotencyKey("7|POST|/api/v1/payments", "abc")

	ok, err := client.SetNX(ctx, key, "first", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, key, "second", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", value)

	require.NoError(t, client.Set(ctx, key, "third", time.Hour))
	value, err = client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "third", value)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "gridpay:idem:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "gridpay:rl:scope", client.RateLimitKey("scope"))
	assert.Equal(t, "gridpay:lock:cron-worker:prod", client.LockKey("cron-worker", "prod"))
	assert.Equal(t, "gridpay:lock:cron-worker", client.LockKey("cron-worker", " "))
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	var client *Client
	assert.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	_, _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second)
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{
		URL:          "redis://:secret@localhost:6379/2",
		PoolSize:     12,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 12, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 4})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 4, opts.DB)

	_, err = optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)
}

// fakeBackend evaluates the two Lua scripts natively by matching their hash.
type fakeBackend struct {
	data     map[string]string
	counters map[string]int64
	expiries map[string][]time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		data:     map[string]string{},
		counters: map[string]int64{},
		expiries: map[string][]time.Duration{},
	}
}

func (f *fakeBackend) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeBackend) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeBackend) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeBackend) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeBackend) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeBackend) EvalSha(_ context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	switch sha {
	case incrWindow.Hash():
		f.counters[keys[0]]++
		n := f.counters[keys[0]]
		if n == 1 {
			ms := args[0].(int64)
			f.expiries[keys[0]] = append(f.expiries[keys[0]], time.Duration(ms)*time.Millisecond)
		}
		return redis.NewCmdResult(n, nil)
	case releaseOwned.Hash():
		if f.data[keys[0]] == args[0].(string) {
			delete(f.data, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("NOSCRIPT unknown script %s", sha))
}

func (f *fakeBackend) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmdResult(nil, fmt.Errorf("eval not supported"))
}

func (f *fakeBackend) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeBackend) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeBackend) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeBackend) ScriptLoad(_ context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}
