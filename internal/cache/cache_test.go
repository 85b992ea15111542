package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"docextract/internal/extraction"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c := NewRedisCache(Config{
		Addr:        mr.Addr(),
		TTL:         time.Hour,
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache_PutGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "abc"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(ctx, "abc", "extracted text", 0)

	text, ok := c.Get(ctx, "abc")
	if !ok || text != "extracted text" {
		t.Errorf("Get() = (%q, %v), want (extracted text, true)", text, ok)
	}

	if !mr.Exists(DefaultKeyPrefix + "abc") {
		t.Error("expected key to be stored under the default prefix")
	}
	if ttl := mr.TTL(DefaultKeyPrefix + "abc"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestRedisCache_EmptyTextIsAHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "blank", "", 0)
	text, ok := c.Get(ctx, "blank")
	if !ok || text != "" {
		t.Errorf("Get() = (%q, %v), want (\"\", true)", text, ok)
	}
}

func TestRedisCache_ExpiredEntryIsAMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "short", "text", time.Minute)
	mr.FastForward(61 * time.Second)

	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("expected expired entry to read as a miss")
	}
}

func TestRedisCache_BackendDownDegradesToMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var buf bytes.Buffer
	c.log = zerolog.New(&buf)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put(ctx, "k", "v", 0)
	mr.Close()

	for i := 0; i < 5; i++ {
		if _, ok := c.Get(ctx, "k"); ok {
			t.Fatal("expected miss while backend is down")
		}
		c.Put(ctx, "k", "v", 0)
	}

	if got := strings.Count(buf.String(), "Cache backend unavailable"); got != 1 {
		t.Errorf("logged %d degradation warnings within one window, want 1", got)
	}

	now = now.Add(DefaultWarnInterval)
	c.Get(ctx, "k")
	if got := strings.Count(buf.String(), "Cache backend unavailable"); got != 2 {
		t.Errorf("logged %d degradation warnings after the window elapsed, want 2", got)
	}

	if err := c.Ping(ctx); !errors.Is(err, extraction.ErrCacheUnavailable) {
		t.Errorf("Ping() = %v, want ErrCacheUnavailable", err)
	}
}

func TestRedisCache_LogsRecovery(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var buf bytes.Buffer
	c.log = zerolog.New(&buf)

	c.markDegraded(errors.New("boom"))
	c.Get(ctx, "anything")

	if !strings.Contains(buf.String(), "Cache backend recovered") {
		t.Errorf("expected recovery log, got %q", buf.String())
	}
}

func TestRedisCache_CancelledCallerIsNotDegradation(t *testing.T) {
	c, _ := newTestCache(t)

	var buf bytes.Buffer
	c.log = zerolog.New(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected miss for a cancelled caller")
	}
	c.Put(ctx, "k", "v", 0)
	c.Get(context.Background(), "k")

	c.mu.Lock()
	degraded := c.degraded
	c.mu.Unlock()
	if degraded {
		t.Error("cache marked degraded after a cancelled caller")
	}
	if out := buf.String(); strings.Contains(out, "Cache backend unavailable") || strings.Contains(out, "Cache backend recovered") {
		t.Errorf("unexpected cache health logs: %q", out)
	}
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	c.Put(context.Background(), "k", "v", time.Hour)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("Noop cache must never hit")
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(Config{Addr: "localhost:6379"}).Enabled() {
		t.Error("config with address should be enabled")
	}
}
