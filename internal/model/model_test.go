package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/pairs"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func levels(rows ...[2]string) []PriceLevel {
	out := make([]PriceLevel, len(rows))
	for i, p := range rows {
		out[i] = PriceLevel{Price: dec(p[0]), Volume: dec(p[1])}
	}
	return out
}

func TestApplySnapshotThenDelta(t *testing.T) {
	b := NewBook(pairs.ID("ZEC"))
	last := dec("100.5")
	b.ApplySnapshot(
		levels([2]string{"100", "1.0"}, [2]string{"99", "2.0"}),
		levels([2]string{"101", "1.5"}, [2]string{"102", "0.5"}),
		&last, 1, time.Unix(0, 0),
	)

	bid, ask, ok := b.BestBidAsk()
	if !ok {
		t.Fatal("expected a touch after snapshot")
	}
	if !bid.Price.Equal(dec("100")) || !ask.Price.Equal(dec("101")) {
		t.Fatalf("unexpected touch: bid=%s ask=%s", bid.Price, ask.Price)
	}

	newLast := dec("101")
	cb, ca := b.ApplyDelta(
		levels([2]string{"99", "0"}),
		levels([2]string{"101", "2.0"}, [2]string{"103", "0.25"}),
		&newLast, 2, time.Unix(1, 0),
	)
	if len(cb) != 1 || len(ca) != 2 {
		t.Fatalf("expected 1 changed bid, 2 changed asks; got %d/%d", len(cb), len(ca))
	}

	snap := b.ToBookUpdate()
	if len(snap.Bids) != 1 || !snap.Bids[0].Price.Equal(dec("100")) {
		t.Fatalf("expected bids=[100], got %+v", snap.Bids)
	}
	wantAsks := []string{"101", "102", "103"}
	if len(snap.Asks) != len(wantAsks) {
		t.Fatalf("expected %d asks, got %d: %+v", len(wantAsks), len(snap.Asks), snap.Asks)
	}
	for i, p := range wantAsks {
		if !snap.Asks[i].Price.Equal(dec(p)) {
			t.Errorf("ask[%d] = %s, want %s", i, snap.Asks[i].Price, p)
		}
	}
	if snap.LastPrice == nil || !snap.LastPrice.Equal(dec("101")) {
		t.Errorf("expected lastPrice=101, got %v", snap.LastPrice)
	}
}

func TestCrossedBookDetection(t *testing.T) {
	b := NewBook(pairs.ID("ZEC"))
	b.ApplySnapshot(
		levels([2]string{"100", "1"}),
		levels([2]string{"103", "1"}),
		nil, 1, time.Now(),
	)
	if b.Crossed() {
		t.Fatal("book should not be crossed initially")
	}
	b.ApplyDelta(levels([2]string{"105", "1"}), nil, nil, 2, time.Now())
	if !b.Crossed() {
		t.Fatal("expected crossed book after bid=105 with ask=103")
	}
}

func TestApplyingSameSnapshotTwiceIsIdempotent(t *testing.T) {
	b := NewBook(pairs.ID("ZEC"))
	bids := levels([2]string{"100", "1.0"}, [2]string{"99", "2.0"})
	asks := levels([2]string{"101", "1.5"})
	b.ApplySnapshot(bids, asks, nil, 1, time.Unix(0, 0))
	first := b.ToBookUpdate()

	b.ApplySnapshot(bids, asks, nil, 1, time.Unix(0, 0))
	second := b.ToBookUpdate()

	if len(first.Bids) != len(second.Bids) || len(first.Asks) != len(second.Asks) {
		t.Fatalf("re-applying same snapshot changed book shape: %+v vs %+v", first, second)
	}
}

func TestRemovalMarkerDropsZeroVolumeFromSnapshot(t *testing.T) {
	b := NewBook(pairs.ID("ZEC"))
	b.ApplySnapshot(
		levels([2]string{"100", "1"}, [2]string{"99", "0"}),
		nil, nil, 1, time.Now(),
	)
	update := b.ToBookUpdate()
	if len(update.Bids) != 1 {
		t.Fatalf("expected zero-volume level dropped from snapshot, got %+v", update.Bids)
	}
}
