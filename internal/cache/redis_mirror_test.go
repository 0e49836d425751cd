package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/koios/inkboard/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestRedisMirror(t *testing.T) {
	// This test requires a running Redis instance
	// Skip if Redis is not available
	cfg := &config.RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       1, // Use a test database
	}

	mirror := NewRedisMirror(cfg, "inkboard-test")
	defer mirror.Close()

	ctx := context.Background()
	if err := mirror.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	mirror.Flush(ctx)
	defer mirror.Flush(ctx)

	t.Run("Store and Load", func(t *testing.T) {
		fetchedAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		rec := Record{Value: json.RawMessage(`{"text":"hello"}`), FetchedAt: fetchedAt}

		if err := mirror.Store(ctx, "quote", rec, time.Minute); err != nil {
			t.Fatalf("Failed to store record: %v", err)
		}

		got, found, err := mirror.Load(ctx, "quote")
		if err != nil {
			t.Fatalf("Failed to load record: %v", err)
		}
		if !found {
			t.Fatal("Record not found")
		}
		if string(got.Value) != `{"text":"hello"}` || !got.FetchedAt.Equal(fetchedAt) {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("Shared client", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
		shared := NewRedisMirrorFromClient(client, "inkboard-test")
		defer shared.Close()

		got, found, err := shared.Load(ctx, "quote")
		if err != nil {
			t.Fatalf("Failed to load record: %v", err)
		}
		if !found || string(got.Value) != `{"text":"hello"}` {
			t.Errorf("expected record written through the other mirror, got %+v (found=%v)", got, found)
		}

		other := NewRedisMirrorFromClient(client, "inkboard-other")
		if _, found, _ := other.Load(ctx, "quote"); found {
			t.Error("expected prefixes to isolate mirrors on one client")
		}
	})

	t.Run("Missing key", func(t *testing.T) {
		_, found, err := mirror.Load(ctx, "does-not-exist")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if found {
			t.Error("Expected key not to be found")
		}
	})

	t.Run("Key sanitization", func(t *testing.T) {
		if got := mirror.buildKey("calendar/work"); got != "inkboard-test/calendar_work" {
			t.Errorf("buildKey = %q", got)
		}
	})

	t.Run("Cache hydration", func(t *testing.T) {
		first := New(zap.NewNop(), WithMirror(mirror))
		Fetch(first, "joke", 0, 5*time.Minute, func() (string, error) { return "knock knock", nil })

		second := New(zap.NewNop(), WithMirror(mirror))
		v, ok := Fetch(second, "joke", 0, 5*time.Minute, func() (string, error) { return "", errUpstream })
		if !ok || v != "knock knock" {
			t.Errorf("got %q, %v; want mirrored value", v, ok)
		}
	})

	t.Run("Flush", func(t *testing.T) {
		if err := mirror.Flush(ctx); err != nil {
			t.Fatalf("Failed to flush: %v", err)
		}
		if _, found, _ := mirror.Load(ctx, "quote"); found {
			t.Error("Expected flushed key to be gone")
		}
	})
}
