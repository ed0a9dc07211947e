package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketdata/internal/model"
	"marketdata/internal/pairs"
)

type fakeResubscriber struct {
	calls []string
}

func (f *fakeResubscriber) Resubscribe(pair pairs.ID, reason string) {
	f.calls = append(f.calls, reason)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(resub Resubscriber) (*Engine, chan model.FeedEvent) {
	events := make(chan model.FeedEvent, 8)
	e := New(Config{
		Pair:         pairs.ID("ZEC"),
		Events:       events,
		Resubscriber: resub,
		Logger:       zerolog.Nop(),
	})
	return e, events
}

func TestEngineAppliesSnapshotThenGoesLive(t *testing.T) {
	e, events := newTestEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	events <- model.BookSnapshotEvent{
		Pair:     pairs.ID("ZEC"),
		Bids:     []model.PriceLevel{{Price: dec("100"), Volume: dec("1")}},
		Asks:     []model.PriceLevel{{Price: dec("101"), Volume: dec("1")}},
		Sequence: 1,
	}

	select {
	case update := <-e.Updates():
		if update.Kind != model.KindSnapshot {
			t.Fatalf("expected snapshot kind, got %v", update.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot update")
	}

	update, state, ok, err := e.RequestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("RequestSnapshot error: %v", err)
	}
	if !ok || state != StateLive {
		t.Fatalf("expected live state with ok snapshot, got state=%v ok=%v", state, ok)
	}
	if len(update.Bids) != 1 || len(update.Asks) != 1 {
		t.Fatalf("unexpected snapshot shape: %+v", update)
	}
}

func TestEngineResetsOnSequenceGap(t *testing.T) {
	resub := &fakeResubscriber{}
	e, events := newTestEngine(resub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	events <- model.BookSnapshotEvent{
		Pair:     pairs.ID("ZEC"),
		Bids:     []model.PriceLevel{{Price: dec("100"), Volume: dec("1")}},
		Asks:     []model.PriceLevel{{Price: dec("101"), Volume: dec("1")}},
		Sequence: 1,
	}
	<-e.Updates()

	events <- model.BookDeltaEvent{
		Pair:     pairs.ID("ZEC"),
		Bids:     []model.PriceLevel{{Price: dec("100"), Volume: dec("2")}},
		Sequence: 3, // gap: expected 2
	}

	state := waitForState(t, e, StateAwaitingSnapshot, time.Second)
	if state != StateAwaitingSnapshot {
		t.Fatalf("expected AwaitingSnapshot after sequence gap, got %v", state)
	}
	if len(resub.calls) != 1 || resub.calls[0] != "sequence gap" {
		t.Fatalf("expected one resubscribe call for sequence gap, got %v", resub.calls)
	}
}

// waitForState polls RequestSnapshot until the engine reaches want or the
// timeout elapses, returning whatever state was last observed.
func waitForState(t *testing.T, e *Engine, want State, timeout time.Duration) State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last State
	for time.Now().Before(deadline) {
		_, state, _, err := e.RequestSnapshot(context.Background())
		if err != nil {
			t.Fatalf("RequestSnapshot error: %v", err)
		}
		last = state
		if state == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	return last
}

func TestEngineResetsOnCrossedBook(t *testing.T) {
	resub := &fakeResubscriber{}
	e, events := newTestEngine(resub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	events <- model.BookSnapshotEvent{
		Pair:     pairs.ID("ZEC"),
		Bids:     []model.PriceLevel{{Price: dec("100"), Volume: dec("1")}},
		Asks:     []model.PriceLevel{{Price: dec("103"), Volume: dec("1")}},
		Sequence: 1,
	}
	<-e.Updates()

	events <- model.BookDeltaEvent{
		Pair:     pairs.ID("ZEC"),
		Bids:     []model.PriceLevel{{Price: dec("105"), Volume: dec("1")}},
		Sequence: 2,
	}
	state := waitForState(t, e, StateAwaitingSnapshot, time.Second)
	if state != StateAwaitingSnapshot {
		t.Fatalf("expected AwaitingSnapshot after crossed book, got %v", state)
	}
	if len(resub.calls) != 1 || resub.calls[0] != "crossed book" {
		t.Fatalf("expected one resubscribe call for crossed book, got %v", resub.calls)
	}
}

func TestEngineDropsDeltasWhileAwaitingSnapshot(t *testing.T) {
	e, events := newTestEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	events <- model.ResetEvent{Pair: pairs.ID("ZEC"), Reason: "test"}

	// Give Run a moment to process the reset, then send a delta: it must
	// not produce any update while AwaitingSnapshot.
	time.Sleep(20 * time.Millisecond)
	events <- model.BookDeltaEvent{
		Pair:     pairs.ID("ZEC"),
		Bids:     []model.PriceLevel{{Price: dec("100"), Volume: dec("1")}},
		Sequence: 1,
	}

	select {
	case update := <-e.Updates():
		t.Fatalf("expected no update while awaiting snapshot, got %+v", update)
	case <-time.After(100 * time.Millisecond):
	}

	_, state, ok, _ := e.RequestSnapshot(context.Background())
	if ok || state != StateAwaitingSnapshot {
		t.Fatalf("expected AwaitingSnapshot/not-ok, got state=%v ok=%v", state, ok)
	}
}

func TestEngineShutsDownOnContextCancel(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()

	select {
	case _, open := <-e.Updates():
		if open {
			t.Fatal("expected Updates channel to be closed after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for engine shutdown")
	}
}
