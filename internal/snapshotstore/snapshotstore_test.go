package snapshotstore

import (
	"testing"

	"marketdata/internal/model"
	"marketdata/internal/pairs"
)

func snap(ts int64) model.Snapshot {
	return model.Snapshot{Pair: pairs.ID("ZEC"), Timestamp: ts}
}

func TestAlign(t *testing.T) {
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	cases := []struct{ now, want int64 }{
		{0, 0}, {4, 0}, {5, 5}, {9, 5}, {10, 10}, {123, 120},
	}
	for _, c := range cases {
		if got := s.Align(c.now); got != c.want {
			t.Errorf("Align(%d) = %d, want %d", c.now, got, c.want)
		}
	}
}

func TestInsertAndAt(t *testing.T) {
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	for ts := int64(0); ts <= 20; ts += 5 {
		s.Insert("ZEC", snap(ts), ts)
	}

	got, ok := s.At("ZEC", 12)
	if !ok {
		t.Fatal("expected a snapshot at ts=12")
	}
	if got.Timestamp != 10 {
		t.Errorf("expected nearest aligned ts <= 12 to be 10, got %d", got.Timestamp)
	}
}

func TestAtOutOfWindowBounds(t *testing.T) {
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	s.Insert("ZEC", snap(10), 10)
	s.Insert("ZEC", snap(15), 15)

	if _, ok := s.At("ZEC", 9); ok {
		t.Error("expected absent for ts before min_ts")
	}
	if _, ok := s.At("ZEC", 15+5); !ok {
		t.Error("expected present for ts == max_ts + interval")
	}
	if _, ok := s.At("ZEC", 15+6); ok {
		t.Error("expected absent for ts beyond max_ts + interval")
	}
}

func TestAtUnknownPair(t *testing.T) {
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	if _, ok := s.At("BTC", 10); ok {
		t.Error("expected absent for unknown pair")
	}
	if _, _, ok := s.Range("BTC"); ok {
		t.Error("expected absent range for unknown pair")
	}
}

func TestRangeEmpty(t *testing.T) {
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	if _, _, ok := s.Range("ZEC"); ok {
		t.Error("expected absent range before any insert")
	}
}

func TestRetentionEviction(t *testing.T) {
	// snapshot_interval=5, retention_window=60: after 100s of ticks,
	// maxTimestamp - minTimestamp == 60 (+-5), store size <= 13
	// (spec.md §8 scenario 4).
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	var now int64
	for now = 0; now <= 100; now += 5 {
		s.Insert("ZEC", snap(s.Align(now)), now)
	}

	minTS, maxTS, ok := s.Range("ZEC")
	if !ok {
		t.Fatal("expected non-empty range after ticks")
	}
	if span := maxTS - minTS; span < 55 || span > 65 {
		t.Errorf("expected retention span around 60, got %d (min=%d max=%d)", span, minTS, maxTS)
	}
	if size := s.Size("ZEC"); size > 13 {
		t.Errorf("expected store size <= 13, got %d", size)
	}
}

func TestInsertIgnoresUnknownPair(t *testing.T) {
	s := New([]pairs.ID{"ZEC"}, 5, 60)
	s.Insert("BTC", snap(5), 5)
	if size := s.Size("BTC"); size != 0 {
		t.Errorf("expected unknown pair insert to be a no-op, got size=%d", size)
	}
}
