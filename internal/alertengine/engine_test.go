package alertengine

import (
	"context"
	"testing"
	"time"

	"surveillanceengine/internal/model"
)

type fakeAlertStore struct {
	saved    []model.Alert
	existing map[string]bool
	saveErr  error
}

func (f *fakeAlertStore) Exists(_ context.Context, a model.Alert) (bool, error) {
	if f.existing == nil {
		return false, nil
	}
	return f.existing[a.DedupKey()], nil
}

func (f *fakeAlertStore) Save(_ context.Context, a model.Alert) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, a)
	return nil
}

func (f *fakeAlertStore) Close() error { return nil }

func baseAlert(alertType model.AlertType, klineTime int64) model.Alert {
	return model.Alert{
		Symbol:     "BTCUSDT",
		Interval:   model.Interval1h,
		Type:       alertType,
		LevelPrice: 100.0,
		KlineTime:  klineTime,
	}
}

// TestSubmit_CooldownSuppressesRepeat checks that a second identical-key
// alert within the cooldown window is not persisted.
func TestSubmit_CooldownSuppressesRepeat(t *testing.T) {
	store := &fakeAlertStore{}
	publish := make(chan model.Alert, 8)
	e := New(store, publish, 30*time.Minute, nil)
	ctx := context.Background()

	e.Submit(ctx, baseAlert(model.AlertBullishStreak, 1), 0)
	e.Submit(ctx, baseAlert(model.AlertBullishStreak, 2), 0)

	if len(store.saved) != 1 {
		t.Fatalf("expected cooldown to suppress the second alert, got %d persisted", len(store.saved))
	}
}

// TestSubmit_SqueezeTighteningBypassesCooldown is scenario 4: a SQUEEZE
// alert at a tighter convergence than the last-fired one must bypass the
// 30-minute cooldown.
func TestSubmit_SqueezeTighteningBypassesCooldown(t *testing.T) {
	store := &fakeAlertStore{}
	publish := make(chan model.Alert, 8)
	e := New(store, publish, 30*time.Minute, nil)
	ctx := context.Background()

	e.Submit(ctx, baseAlert(model.AlertSqueeze, 1), 0.028)
	e.Submit(ctx, baseAlert(model.AlertSqueeze, 2), 0.015)

	if len(store.saved) != 2 {
		t.Fatalf("expected tightening squeeze to bypass cooldown, got %d persisted, want 2", len(store.saved))
	}
}

// TestSubmit_SqueezeWideningRespectsCooldown checks a squeeze alert that is
// NOT tighter than the prior one still respects cooldown.
func TestSubmit_SqueezeWideningRespectsCooldown(t *testing.T) {
	store := &fakeAlertStore{}
	publish := make(chan model.Alert, 8)
	e := New(store, publish, 30*time.Minute, nil)
	ctx := context.Background()

	e.Submit(ctx, baseAlert(model.AlertSqueeze, 1), 0.015)
	e.Submit(ctx, baseAlert(model.AlertSqueeze, 2), 0.028)

	if len(store.saved) != 1 {
		t.Fatalf("expected widening squeeze to respect cooldown, got %d persisted, want 1", len(store.saved))
	}
}

// TestSubmit_DuplicateSuppressed checks that an alert whose DedupKey already
// exists in the store is never persisted twice, even past cooldown.
func TestSubmit_DuplicateSuppressed(t *testing.T) {
	alert := baseAlert(model.AlertTouched, 42)
	store := &fakeAlertStore{existing: map[string]bool{alert.DedupKey(): true}}
	publish := make(chan model.Alert, 8)
	e := New(store, publish, time.Millisecond, nil)

	e.Submit(context.Background(), alert, 0)

	if len(store.saved) != 0 {
		t.Fatalf("expected duplicate to be refused, got %d persisted", len(store.saved))
	}
}

// TestSubmit_PublishesOnSuccess checks a successfully persisted alert is
// published to the fan-out channel.
func TestSubmit_PublishesOnSuccess(t *testing.T) {
	store := &fakeAlertStore{}
	publish := make(chan model.Alert, 8)
	e := New(store, publish, 30*time.Minute, nil)

	e.Submit(context.Background(), baseAlert(model.AlertHammer, 1), 0)

	select {
	case <-publish:
	default:
		t.Error("expected alert to be published to the fan-out channel")
	}
}

// TestSubmit_SaveFailureDoesNotRollbackCooldown checks the documented
// failure semantics: a store failure is logged, but the in-memory cooldown
// state already set by the allow decision is not rolled back.
func TestSubmit_SaveFailureDoesNotRollbackCooldown(t *testing.T) {
	store := &fakeAlertStore{saveErr: context.DeadlineExceeded}
	publish := make(chan model.Alert, 8)
	e := New(store, publish, 30*time.Minute, nil)
	ctx := context.Background()

	e.Submit(ctx, baseAlert(model.AlertDoji, 1), 0)
	if len(store.saved) != 0 {
		t.Fatalf("expected save to fail, got %d persisted", len(store.saved))
	}

	store.saveErr = nil
	e.Submit(ctx, baseAlert(model.AlertDoji, 2), 0)
	if len(store.saved) != 0 {
		t.Fatalf("expected cooldown set by the failed attempt to still suppress the retry, got %d persisted", len(store.saved))
	}
}
