// Package model defines the wire-independent data types shared by the
// orderbook engine, snapshot store, broadcaster, and the client-facing
// adapters: PriceLevel, Book, BookUpdate, OhlcBar, Snapshot, and the
// FeedEvent union emitted by the upstream feed client (spec.md §3).
//
// Ordered book sides are backed by github.com/emirpasic/gods' treemap,
// the same ordered-map primitive the teacher repo's
// internal/orderbook/orderbook.go uses for its own BookArray type.
package model

import (
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"marketdata/internal/pairs"
)

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// PriceLevel is one aggregated price/volume pair on a book side. A zero
// Volume in a Delta's level list is a removal marker (spec.md §3).
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// BookUpdateKind distinguishes a full-state BookUpdate from an
// incremental one.
type BookUpdateKind int

const (
	KindSnapshot BookUpdateKind = iota
	KindDelta
)

func (k BookUpdateKind) String() string {
	if k == KindSnapshot {
		return "snapshot"
	}
	return "delta"
}

// BookUpdate is what the engine emits on every applied event and what
// LiveSession forwards to clients (spec.md §3 / §6).
type BookUpdate struct {
	Pair      pairs.ID
	Kind      BookUpdateKind
	Bids      []PriceLevel
	Asks      []PriceLevel
	LastPrice *decimal.Decimal
	Sequence  uint64
	Timestamp time.Time
}

// OhlcBar is a one-minute upstream candle (spec.md §3).
type OhlcBar struct {
	Pair        pairs.ID
	IntervalSec int
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Vwap        decimal.Decimal
	Volume      decimal.Decimal
	TradeCount  uint32
	BarStart    time.Time
	BarEnd      time.Time
}

// Snapshot is the immutable, timestamp-indexed book state the
// SnapshotStore retains (spec.md §3 invariant 3).
type Snapshot struct {
	Pair      pairs.ID
	Timestamp int64 // aligned seconds, see snapshotstore.Align
	LastPrice *decimal.Decimal
	Bids      []PriceLevel // sorted descending by price
	Asks      []PriceLevel // sorted ascending by price
}

// bookSide is one side (bids or asks) of a live Book: an ordered map
// from price to volume, iterated in the side's natural sort order.
type bookSide struct {
	levels     treemap.Map
	descending bool
}

func newBookSide(descending bool) *bookSide {
	return &bookSide{
		levels:     *treemap.NewWith(decimalComparator),
		descending: descending,
	}
}

// applyLevels merges level updates into the side: a zero volume removes
// the price, a positive volume sets/replaces it. Returns the set of
// levels that actually changed (for Delta emission).
func (s *bookSide) applyLevels(updates []PriceLevel) []PriceLevel {
	changed := make([]PriceLevel, 0, len(updates))
	for _, lvl := range updates {
		if lvl.Volume.IsZero() {
			if _, found := s.levels.Get(lvl.Price); found {
				s.levels.Remove(lvl.Price)
				changed = append(changed, lvl)
			}
			continue
		}
		s.levels.Put(lvl.Price, lvl.Volume)
		changed = append(changed, lvl)
	}
	return changed
}

// replaceAll clears the side and installs the given levels verbatim,
// used when applying a BookSnapshot.
func (s *bookSide) replaceAll(levels []PriceLevel) {
	s.levels.Clear()
	for _, lvl := range levels {
		if lvl.Volume.IsZero() {
			continue
		}
		s.levels.Put(lvl.Price, lvl.Volume)
	}
}

// snapshot returns every level on this side in the side's sort order.
func (s *bookSide) snapshot() []PriceLevel {
	out := make([]PriceLevel, 0, s.levels.Size())
	it := s.levels.Iterator()
	if s.descending {
		for it.End(); it.Prev(); {
			out = append(out, PriceLevel{
				Price:  it.Key().(decimal.Decimal),
				Volume: it.Value().(decimal.Decimal),
			})
		}
	} else {
		for it.Next() {
			out = append(out, PriceLevel{
				Price:  it.Key().(decimal.Decimal),
				Volume: it.Value().(decimal.Decimal),
			})
		}
	}
	return out
}

// best returns the level closest to the touch: the highest price for a
// descending (bid) side, the lowest for an ascending (ask) side.
func (s *bookSide) best() (PriceLevel, bool) {
	if s.levels.Empty() {
		return PriceLevel{}, false
	}
	var price, volume interface{}
	if s.descending {
		price, volume = s.levels.Max()
	} else {
		price, volume = s.levels.Min()
	}
	return PriceLevel{Price: price.(decimal.Decimal), Volume: volume.(decimal.Decimal)}, true
}

// Book is the canonical per-pair state an OrderbookEngine owns. It is
// never shared mutably across goroutines — callers read it only through
// cloned PriceLevel slices (spec.md §5).
type Book struct {
	Pair       pairs.ID
	Bids       *bookSide
	Asks       *bookSide
	LastPrice  *decimal.Decimal
	LastUpdate time.Time
	Sequence   uint64
}

// NewBook allocates an empty book for pair. The book has no meaningful
// state until the first BookSnapshot is applied (spec.md §3 lifecycle).
func NewBook(pair pairs.ID) *Book {
	return &Book{
		Pair: pair,
		Bids: newBookSide(true),
		Asks: newBookSide(false),
	}
}

// BestBidAsk returns the current touch, if both sides are non-empty.
func (b *Book) BestBidAsk() (bid, ask PriceLevel, ok bool) {
	bid, okBid := b.Bids.best()
	ask, okAsk := b.Asks.best()
	return bid, ask, okBid && okAsk
}

// Crossed reports whether the book is in a fatally inconsistent state:
// best bid >= best ask (spec.md §3 invariant 1, §4.2 edge cases).
func (b *Book) Crossed() bool {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return false
	}
	return bid.Price.Cmp(ask.Price) >= 0
}

// ApplySnapshot clears the book and installs full state, as the Apply
// rules for BookSnapshot dictate (spec.md §4.2).
func (b *Book) ApplySnapshot(bids, asks []PriceLevel, lastPrice *decimal.Decimal, sequence uint64, ts time.Time) {
	b.Bids.replaceAll(bids)
	b.Asks.replaceAll(asks)
	b.LastPrice = lastPrice
	b.Sequence = sequence
	b.LastUpdate = ts
}

// ApplyDelta merges incremental level changes and returns only the
// levels that changed, for Delta BookUpdate emission (spec.md §4.2).
func (b *Book) ApplyDelta(bids, asks []PriceLevel, lastPrice *decimal.Decimal, sequence uint64, ts time.Time) (changedBids, changedAsks []PriceLevel) {
	changedBids = b.Bids.applyLevels(bids)
	changedAsks = b.Asks.applyLevels(asks)
	if lastPrice != nil {
		b.LastPrice = lastPrice
	}
	b.Sequence = sequence
	b.LastUpdate = ts
	return changedBids, changedAsks
}

// ToSnapshot produces an immutable, deep-copied point-in-time view
// suitable for storage or for a fresh LiveSession join.
func (b *Book) ToSnapshot(alignedTimestamp int64) Snapshot {
	return Snapshot{
		Pair:      b.Pair,
		Timestamp: alignedTimestamp,
		LastPrice: clonePrice(b.LastPrice),
		Bids:      b.Bids.snapshot(),
		Asks:      b.Asks.snapshot(),
	}
}

// ToBookUpdate wraps the current full book state as a Snapshot-kind
// BookUpdate, used both on ApplySnapshot and whenever a LiveSession
// needs a fresh full frame (spec.md §3 invariant 5).
func (b *Book) ToBookUpdate() BookUpdate {
	return BookUpdate{
		Pair:      b.Pair,
		Kind:      KindSnapshot,
		Bids:      b.Bids.snapshot(),
		Asks:      b.Asks.snapshot(),
		LastPrice: clonePrice(b.LastPrice),
		Sequence:  b.Sequence,
		Timestamp: b.LastUpdate,
	}
}

func clonePrice(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SnapshotToBookUpdate converts a stored Snapshot into the Snapshot-kind
// BookUpdate wire shape a LiveSession sends on (re)join.
func SnapshotToBookUpdate(s Snapshot) BookUpdate {
	return BookUpdate{
		Pair:      s.Pair,
		Kind:      KindSnapshot,
		Bids:      append([]PriceLevel(nil), s.Bids...),
		Asks:      append([]PriceLevel(nil), s.Asks...),
		LastPrice: clonePrice(s.LastPrice),
		Timestamp: time.Unix(s.Timestamp, 0).UTC(),
	}
}
