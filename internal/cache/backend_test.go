package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testRedisBackend(t *testing.T) (*miniredis.Miniredis, *redisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := newRedisBackend(context.Background(), "redis://"+mr.Addr(), time.Second)
	if err != nil {
		t.Fatalf("newRedisBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestKey(t *testing.T) {
	d := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := Key("acme", d); got != "metrics:acme:2024-03-10" {
		t.Errorf("Key = %q", got)
	}
	if got := OldKey(Key("acme", d)); got != "metrics:acme:2024-03-10:old" {
		t.Errorf("OldKey = %q", got)
	}
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	mr, b := testRedisBackend(t)
	ctx := context.Background()

	// Absent key
	_, found, err := b.Get(ctx, "metrics:acme:2024-03-10")
	if err != nil || found {
		t.Fatalf("Get absent: found=%v err=%v", found, err)
	}
	exists, err := b.Exists(ctx, "metrics:acme:2024-03-10")
	if err != nil || exists {
		t.Fatalf("Exists absent: exists=%v err=%v", exists, err)
	}

	// Set and read back
	if err := b.Set(ctx, "metrics:acme:2024-03-10", `{"n":1}`, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, found, err := b.Get(ctx, "metrics:acme:2024-03-10")
	if err != nil || !found || val != `{"n":1}` {
		t.Fatalf("Get: val=%q found=%v err=%v", val, found, err)
	}
	exists, err = b.Exists(ctx, "metrics:acme:2024-03-10")
	if err != nil || !exists {
		t.Fatalf("Exists: exists=%v err=%v", exists, err)
	}

	// TTL is applied
	if ttl := mr.TTL("metrics:acme:2024-03-10"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	// Delete is idempotent
	if err := b.Delete(ctx, "metrics:acme:2024-03-10"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, "metrics:acme:2024-03-10"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	if _, found, _ := b.Get(ctx, "metrics:acme:2024-03-10"); found {
		t.Error("key still present after delete")
	}
}

func TestRedisBackend_Expiry(t *testing.T) {
	mr, b := testRedisBackend(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, found, _ := b.Get(ctx, "k"); found {
		t.Error("key survived its TTL")
	}
}

func TestNewBackend_FallsBackToREST(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Unreachable direct URL plus a configured gateway selects REST once.
	b, err := NewBackend(context.Background(), Options{
		RedisURL:  "redis://127.0.0.1:1", // nothing listens here
		RESTURL:   "http://gateway.example",
		RESTToken: "token",
		Timeout:   100 * time.Millisecond,
	}, logger)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.Name() != "rest" {
		t.Errorf("transport = %s, want rest", b.Name())
	}
}

func TestNewBackend_NothingConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewBackend(context.Background(), Options{}, logger); err == nil {
		t.Error("expected error with no backend configured")
	}
}
