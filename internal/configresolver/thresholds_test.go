package configresolver

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	values map[string]string
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func TestFor_FallsBackToDefaultWithoutOverride(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	th := New(store, 30, 15, 1, nil)
	th.refresh(context.Background())

	high, medium, dedup := th.For(context.Background(), "BTCUSDT", 900)
	if high != 30 || medium != 15 || dedup != 1 {
		t.Fatalf("got (%v,%v,%v), want (30,15,1)", high, medium, dedup)
	}
}

func TestFor_UsesPerSymbolOverride(t *testing.T) {
	store := &fakeStore{values: map[string]string{
		thresholdsKey: `{"BTCUSDT":{"high":45,"medium":20,"dedup":2}}`,
	}}
	th := New(store, 30, 15, 1, nil)
	th.refresh(context.Background())

	high, medium, dedup := th.For(context.Background(), "BTCUSDT", 900)
	if high != 45 || medium != 20 || dedup != 2 {
		t.Fatalf("got (%v,%v,%v), want (45,20,2)", high, medium, dedup)
	}

	// A symbol with no override still falls back to the default.
	high, medium, dedup = th.For(context.Background(), "ETHUSDT", 900)
	if high != 30 || medium != 15 || dedup != 1 {
		t.Fatalf("ETHUSDT got (%v,%v,%v), want defaults (30,15,1)", high, medium, dedup)
	}
}

func TestIsBlacklisted(t *testing.T) {
	store := &fakeStore{values: map[string]string{
		blacklistKey: `["SCAMUSDT","RUGUSDT"]`,
	}}
	th := New(store, 30, 15, 1, nil)
	th.refresh(context.Background())

	if !th.IsBlacklisted("SCAMUSDT") {
		t.Error("expected SCAMUSDT to be blacklisted")
	}
	if th.IsBlacklisted("BTCUSDT") {
		t.Error("expected BTCUSDT not to be blacklisted")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	th := New(store, 30, 15, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		th.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
