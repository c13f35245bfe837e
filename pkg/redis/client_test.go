package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/akua-anchor/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i, wantAllowed := range []bool{true, true, false} {
		allowed, count, err := client.FixedWindowAllow(ctx, "publish:10.0.0.1", 2, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if allowed != wantAllowed || count != int64(i+1) {
			t.Fatalf("call %d: allowed=%v count=%d", i, allowed, count)
		}
	}
	if got := mock.expiries["akua:rate_limit:publish:10.0.0.1"]; got != time.Minute.Milliseconds() {
		t.Fatalf("expected window set once on first hit, got %d", got)
	}
	if mock.expireCalls != 1 {
		t.Fatalf("expected a single expire, got %d", mock.expireCalls)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.RateLimitKey("publish:10.0.0.1"); got != "akua:rate_limit:publish:10.0.0.1" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("wallet", "mx1"); got != "akua:lock:wallet:mx1" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.UTXOPoolKey("testnet", "mx1"); got != "akua:utxo:testnet:mx1" {
		t.Fatalf("unexpected utxo key %s", got)
	}
	if got := client.LockKey("publish", " "); got != "akua:lock:publish" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}
}

func TestReleaseLockChecksOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("wallet", "addr")

	if ok, err := client.SetNX(ctx, key, "owner-1", time.Minute); err != nil || !ok {
		t.Fatalf("setnx failed ok=%v err=%v", ok, err)
	}
	if ok, _ := client.SetNX(ctx, key, "owner-2", time.Minute); ok {
		t.Fatal("second setnx should not acquire")
	}

	released, err := client.ReleaseLock(ctx, key, "owner-2")
	if err != nil || released {
		t.Fatalf("foreign owner must not release, released=%v err=%v", released, err)
	}
	if owner, _ := client.Get(ctx, key); owner != "owner-1" {
		t.Fatalf("lock should still be held by owner-1, got %q", owner)
	}

	released, err = client.ReleaseLock(ctx, key, "owner-1")
	if err != nil || !released {
		t.Fatalf("owner release failed released=%v err=%v", released, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
}

func TestExtendLockChecksOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("wallet", "addr")

	if ok, err := client.ExtendLock(ctx, key, "owner-1", time.Minute); err != nil || ok {
		t.Fatalf("missing lock must not extend, ok=%v err=%v", ok, err)
	}
	if ok, err := client.SetNX(ctx, key, "owner-1", time.Second); err != nil || !ok {
		t.Fatalf("setnx failed ok=%v err=%v", ok, err)
	}
	if ok, _ := client.ExtendLock(ctx, key, "owner-2", time.Minute); ok {
		t.Fatal("foreign owner must not extend")
	}
	if ok, err := client.ExtendLock(ctx, key, "owner-1", time.Minute); err != nil || !ok {
		t.Fatalf("owner extend failed ok=%v err=%v", ok, err)
	}
	if got := mock.expiries[key]; got != time.Minute.Milliseconds() {
		t.Fatalf("expected lease reset to 60000ms, got %d", got)
	}
}

func TestHashHelpers(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.UTXOPoolKey("testnet", "addr")

	if err := client.HSet(ctx, key, "a:0", "1", "b:1", "2"); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if err := client.HDel(ctx, key, "a:0"); err != nil {
		t.Fatalf("hdel: %v", err)
	}
	if err := client.HDel(ctx, key); err != nil {
		t.Fatalf("hdel without fields: %v", err)
	}
	all, err := client.HGetAll(ctx, key)
	if err != nil || len(all) != 1 || all["b:1"] != "2" {
		t.Fatalf("unexpected hash contents %+v err=%v", all, err)
	}

	if err := client.ReplaceHash(ctx, key, "c:2", "3"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	all, _ = client.HGetAll(ctx, key)
	if len(all) != 1 || all["c:2"] != "3" {
		t.Fatalf("expected replaced hash, got %+v", all)
	}
	if err := client.ReplaceHash(ctx, key); err != nil {
		t.Fatalf("replace with nothing: %v", err)
	}
	if all, _ = client.HGetAll(ctx, key); len(all) != 0 {
		t.Fatalf("expected empty hash, got %+v", all)
	}
	if err := client.ReplaceHash(ctx, key, "odd"); err == nil {
		t.Fatal("expected odd argument count to be rejected")
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if err := client.Ping(ctx); err != errNotInitialized {
		t.Fatalf("expected not initialized ping, got %v", err)
	}
	if _, err := client.HGetAll(ctx, "k"); err != errNotInitialized {
		t.Fatalf("expected not initialized hgetall, got %v", err)
	}
	if _, _, err := client.FixedWindowAllow(ctx, "s", 1, time.Second); err != errNotInitialized {
		t.Fatalf("expected not initialized rate limit, got %v", err)
	}
	if client.Close() != nil {
		t.Fatal("closing an unconnected client should be a no-op")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@localhost:6380/2", DB: 5, PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("optionsFromConfig: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.DB != 2 || opts.Password != "pw" || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "redis:6379", Password: "x", DB: 3})
	if err != nil || opts.Addr != "redis:6379" || opts.DB != 3 {
		t.Fatalf("unexpected address options %+v err=%v", opts, err)
	}
}

// mockCmdable evaluates the package scripts by identity instead of running Lua.
type mockCmdable struct {
	data        map[string]string
	counters    map[string]int64
	expiries    map[string]int64
	hashes      map[string]map[string]string
	expireCalls int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:     map[string]string{},
		counters: map[string]int64{},
		expiries: map[string]int64{},
		hashes:   map[string]map[string]string{},
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
		delete(m.data, key)
		delete(m.hashes, key)
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	var added int64
	for i := 0; i+1 < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
		added++
	}
	return redis.NewIntResult(added, nil)
}

func (m *mockCmdable) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	var removed int64
	for _, f := range fields {
		if _, ok := m.hashes[key][f]; ok {
			delete(m.hashes[key], f)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (m *mockCmdable) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	switch script {
	case fixedWindowScript:
		m.counters[key]++
		if m.counters[key] == 1 {
			m.expiries[key] = args[0].(int64)
			m.expireCalls++
		}
		return redis.NewCmdResult(m.counters[key], nil)
	case releaseLockScript:
		if v, ok := m.data[key]; ok && v == args[0] {
			delete(m.data, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case extendLockScript:
		if v, ok := m.data[key]; ok && v == args[0] {
			m.expiries[key] = args[1].(int64)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case replaceHashScript:
		delete(m.hashes, key)
		if len(args) == 0 {
			return redis.NewCmdResult(int64(0), nil)
		}
		return redis.NewCmdResult(m.HSet(ctx, key, args...).Val(), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script %q", script))
}
