package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testPolicy(requests int, window time.Duration) Policy {
	return Policy{Name: "chat", Requests: requests, Window: window}
}

func TestCheckAllowsUpToLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), nil)
	policy := testPolicy(3, time.Minute)

	for i := 0; i < 3; i++ {
		d := limiter.Check(context.Background(), "user-1", policy)
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Errorf("request %d remaining = %d, want %d", i+1, d.Remaining, 3-(i+1))
		}
	}

	d := limiter.Check(context.Background(), "user-1", policy)
	if d.Allowed {
		t.Fatal("request 4 allowed, want denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", d.RetryAfter)
	}
}

func TestCheckIsolatesUsers(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), nil)
	policy := testPolicy(1, time.Minute)

	if d := limiter.Check(context.Background(), "user-1", policy); !d.Allowed {
		t.Fatal("user-1 first request denied")
	}
	if d := limiter.Check(context.Background(), "user-2", policy); !d.Allowed {
		t.Fatal("user-2 first request denied, limits should be per-user")
	}
}

func TestCheckIsolatesPolicies(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), nil)

	chat := Policy{Name: "chat", Requests: 1, Window: time.Minute}
	search := Policy{Name: "tool:web_search", Requests: 1, Window: time.Minute}

	if d := limiter.Check(context.Background(), "user-1", chat); !d.Allowed {
		t.Fatal("chat request denied")
	}
	if d := limiter.Check(context.Background(), "user-1", search); !d.Allowed {
		t.Fatal("search request denied, tool limits are independent of the chat limit")
	}
}

func TestCheckWindowReset(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), nil)
	policy := testPolicy(1, time.Minute)

	base := time.Now()
	limiter.now = func() time.Time { return base }

	if d := limiter.Check(context.Background(), "user-1", policy); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d := limiter.Check(context.Background(), "user-1", policy); d.Allowed {
		t.Fatal("second request allowed within window")
	}

	limiter.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	if d := limiter.Check(context.Background(), "user-1", policy); !d.Allowed {
		t.Fatal("request after window elapsed denied, want allowed")
	}
}

func TestCheckConcurrentExactLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), nil)
	policy := testPolicy(50, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := limiter.Check(context.Background(), "user-1", policy); d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Fatalf("allowed %d concurrent requests, want exactly 50", got)
	}
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration, time.Time) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("store unreachable")
}
func (failingStore) Close() error { return nil }

func TestCheckFailsClosedOnStoreError(t *testing.T) {
	limiter := NewLimiter(failingStore{}, nil)
	d := limiter.Check(context.Background(), "user-1", testPolicy(100, time.Minute))
	if d.Allowed {
		t.Fatal("request allowed despite store failure, want denied")
	}
	if d.StoreError == nil {
		t.Fatal("StoreError not set on store-failure denial")
	}
}

func TestSQLiteStoreIncr(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/counters.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		count, _, err := store.Incr(context.Background(), "chat:user-1", time.Minute, now)
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if count != i {
			t.Fatalf("Incr() count = %d, want %d", count, i)
		}
	}

	// A later call past the window resets the counter.
	count, windowStart, err := store.Incr(context.Background(), "chat:user-1", time.Minute, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Incr() after window error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Incr() after window count = %d, want 1", count)
	}
	if !windowStart.After(now) {
		t.Fatalf("window start %v not advanced past %v", windowStart, now)
	}
}

func TestSQLiteStoreConcurrent(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/counters.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	limiter := NewLimiter(store, nil)
	policy := testPolicy(20, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := limiter.Check(context.Background(), "user-1", policy); d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 20 {
		t.Fatalf("allowed %d concurrent requests, want exactly 20", got)
	}
}
