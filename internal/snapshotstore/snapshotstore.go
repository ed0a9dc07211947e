// Package snapshotstore implements the per-pair, timestamp-keyed ring of
// book snapshots described in spec.md §4.3: a timer captures the live
// book on a fixed cadence, the store retains at most
// retention_window_secs of history per pair, and HistoryAPI reads it
// under a short critical section.
//
// Grounded on the teacher's internal/orderbook ordered-map usage
// (github.com/emirpasic/gods/maps/treemap), here keyed by aligned
// timestamp instead of price, which gives range/at queries a sorted
// structure with O(log n) eviction of the low end.
package snapshotstore

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"

	"marketdata/internal/model"
	"marketdata/internal/pairs"
)

func int64Comparator(a, b interface{}) int {
	x, y := a.(int64), b.(int64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// perPair guards one pair's timestamp-keyed snapshot index. Writers are
// that pair's snapshot-timer task; readers are HTTP handlers — a plain
// RWMutex is enough since spec.md §5 calls for "short critical sections;
// no read blocks a writer longer than one snapshot clone".
type perPair struct {
	mu       sync.RWMutex
	byTS     *treemap.Map // int64 aligned-ts -> model.Snapshot
	interval int64
}

// Store holds one perPair index per configured pair.
type Store struct {
	retentionSecs int64
	intervalSecs  int64
	pairs         map[pairs.ID]*perPair
}

// New constructs a Store for the given pairs with the configured
// interval/retention, both in seconds (spec.md §6 snapshot_interval_secs
// / retention_window_secs).
func New(ids []pairs.ID, intervalSecs, retentionSecs int64) *Store {
	s := &Store{
		retentionSecs: retentionSecs,
		intervalSecs:  intervalSecs,
		pairs:         make(map[pairs.ID]*perPair, len(ids)),
	}
	for _, id := range ids {
		s.pairs[id] = &perPair{
			byTS:     treemap.NewWith(int64Comparator),
			interval: intervalSecs,
		}
	}
	return s
}

// Align floors now to the configured interval boundary, per spec.md
// §4.3's "tick's wall-clock second, aligned to the interval".
func (s *Store) Align(now int64) int64 {
	return alignTo(now, s.intervalSecs)
}

func alignTo(now, interval int64) int64 {
	if interval <= 0 {
		return now
	}
	return (now / interval) * interval
}

// Insert records snap under its own timestamp for pair, evicting
// entries older than retention_window_secs first (spec.md §4.3
// "Retention"). now is the wall-clock second the insert is happening at
// (not necessarily snap.Timestamp) and anchors the eviction cutoff.
func (s *Store) Insert(pair pairs.ID, snap model.Snapshot, now int64) {
	pp, ok := s.pairs[pair]
	if !ok {
		return
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	cutoff := now - s.retentionSecs
	for {
		k, _ := pp.byTS.Min()
		if k == nil {
			break
		}
		if k.(int64) >= cutoff {
			break
		}
		pp.byTS.Remove(k)
	}

	pp.byTS.Put(snap.Timestamp, snap)
}

// Range returns the current retention envelope for pair: the oldest and
// newest stored timestamps. ok is false if the pair is unknown or has no
// stored snapshots yet (spec.md §4.3 "range(pair) -> {min_ts, max_ts}?").
func (s *Store) Range(pair pairs.ID) (minTS, maxTS int64, ok bool) {
	pp, known := s.pairs[pair]
	if !known {
		return 0, 0, false
	}
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	if pp.byTS.Empty() {
		return 0, 0, false
	}
	lo, _ := pp.byTS.Min()
	hi, _ := pp.byTS.Max()
	return lo.(int64), hi.(int64), true
}

// At returns the snapshot for the nearest aligned timestamp <= ts within
// the retention window (spec.md §4.3 "at(pair, ts) -> Snapshot?"). It
// returns ok=false if pair is unknown, ts precedes min_ts, or ts exceeds
// max_ts + interval.
func (s *Store) At(pair pairs.ID, ts int64) (model.Snapshot, bool) {
	pp, known := s.pairs[pair]
	if !known {
		return model.Snapshot{}, false
	}
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	if pp.byTS.Empty() {
		return model.Snapshot{}, false
	}
	lo, _ := pp.byTS.Min()
	hi, _ := pp.byTS.Max()
	minTS, maxTS := lo.(int64), hi.(int64)

	if ts < minTS || ts > maxTS+pp.interval {
		return model.Snapshot{}, false
	}

	// Floor(ts) against the stored keys: the greatest key <= ts.
	it := pp.byTS.Iterator()
	var bestKey int64
	found := false
	for it.Next() {
		k := it.Key().(int64)
		if k > ts {
			break
		}
		bestKey = k
		found = true
	}
	if !found {
		return model.Snapshot{}, false
	}
	v, _ := pp.byTS.Get(bestKey)
	return v.(model.Snapshot), true
}

// Size reports how many snapshots are currently retained for pair,
// exposed for tests and for the /metrics gauge (spec.md §8 testable
// property 5's retention bound).
func (s *Store) Size(pair pairs.ID) int {
	pp, ok := s.pairs[pair]
	if !ok {
		return 0
	}
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return pp.byTS.Size()
}
