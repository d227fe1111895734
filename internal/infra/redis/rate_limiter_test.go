//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockRedisClient struct {
	counts  map[string]int64
	expires map[string]time.Duration
	IncrErr error
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (m *mockRedisClient) Ping(context.Context) error { return nil }
func (m *mockRedisClient) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}
func (m *mockRedisClient) Get(context.Context, string) (string, error) { return "", nil }
func (m *mockRedisClient) Incr(_ context.Context, key string) (int64, error) {
	if m.IncrErr != nil {
		return 0, m.IncrErr
	}
	m.counts[key]++
	return m.counts[key], nil
}
func (m *mockRedisClient) Expire(_ context.Context, key string, d time.Duration) error {
	m.expires[key] = d
	return nil
}
func (m *mockRedisClient) Del(context.Context, ...string) error { return nil }
func (m *mockRedisClient) Close() error                        { return nil }

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow up to the limit within a window", func(t *testing.T) {
		// --- Arrange ---
		cli := newMockRedisClient()
		rl := NewRateLimiter(cli)

		// --- Act ---
		var allowed int
		for i := 0; i < 5; i++ {
			ok, err := rl.Allow(ctx, "rl:submit:alice", 3, time.Minute)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if ok {
				allowed++
			}
		}

		// --- Assert ---
		if allowed != 3 {
			t.Errorf("expected 3 allowed, got %d", allowed)
		}
		if cli.expires["rl:submit:alice"] != time.Minute {
			t.Errorf("expected the window set on first hit, got %v", cli.expires["rl:submit:alice"])
		}
	})

	t.Run("should count keys independently", func(t *testing.T) {
		rl := NewRateLimiter(newMockRedisClient())
		_, _ = rl.Allow(ctx, "a", 1, time.Minute)
		if ok, _ := rl.Allow(ctx, "b", 1, time.Minute); !ok {
			t.Error("expected a separate key to be allowed")
		}
	})

	t.Run("should surface backend errors", func(t *testing.T) {
		cli := newMockRedisClient()
		cli.IncrErr = errors.New("connection refused")
		if _, err := NewRateLimiter(cli).Allow(ctx, "a", 1, time.Minute); err == nil {
			t.Error("expected an error")
		}
	})
}
