package cache

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	storeredis "surveillanceengine/internal/store/redis"
)

// closedPortAddr opens then immediately closes a TCP listener, returning an
// address that refuses connections promptly (no DNS lookup delay, unlike an
// unroutable IP).
func closedPortAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func newUnreachableLayer(t *testing.T) *Layer {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        closedPortAddr(t),
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, nil)
}

// TestGetOrLoad_DegradesToLoadWhenCircuitOpen checks that once the circuit
// breaker trips (Redis unreachable), GetOrLoad falls through to calling load
// directly rather than blocking on further failed Redis round-trips (§4.4
// read-through cache fronting a degraded backend).
func TestGetOrLoad_DegradesToLoadWhenCircuitOpen(t *testing.T) {
	l := newUnreachableLayer(t)
	ctx := context.Background()

	loadCalls := 0
	load := func(context.Context) ([]byte, error) {
		loadCalls++
		return []byte("value"), nil
	}

	// Trip the breaker: default maxFailures is 5.
	for i := 0; i < 6; i++ {
		v, err := l.GetOrLoad(ctx, "latest:BTCUSDT", TTLLatestSnapshot, load)
		if err != nil {
			t.Fatalf("GetOrLoad call %d: %v", i, err)
		}
		if string(v) != "value" {
			t.Fatalf("GetOrLoad call %d returned %q, want \"value\"", i, v)
		}
	}

	if l.cb.CurrentState() != storeredis.StateOpen {
		t.Fatalf("expected circuit breaker to be open after repeated failures, got %v", l.cb.CurrentState())
	}
	if loadCalls != 6 {
		t.Errorf("expected load to be called on every GetOrLoad invocation (cache never serves a value when Redis is down), got %d calls", loadCalls)
	}
}

// TestGetOrLoad_SingleflightCollapsesConcurrentMisses checks concurrent
// callers for the same key, racing while the circuit is still closed, share
// one in-flight load rather than each triggering an independent miss-fill
// (§4.4: "both result and miss are protected by a single-flight mutex per
// key to prevent thundering-herd").
func TestGetOrLoad_SingleflightCollapsesConcurrentMisses(t *testing.T) {
	l := newUnreachableLayer(t)

	var loadCalls int32
	const n = 20
	var wg sync.WaitGroup
	block := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-block
			l.GetOrLoad(context.Background(), "shared-key", TTLConfig, func(context.Context) ([]byte, error) {
				atomic.AddInt32(&loadCalls, 1)
				time.Sleep(50 * time.Millisecond)
				return []byte("v"), nil
			})
		}()
	}
	close(block)
	wg.Wait()

	if loadCalls != 1 {
		t.Errorf("expected singleflight to collapse %d concurrent misses on the same key into 1 load call, got %d", n, loadCalls)
	}
}
