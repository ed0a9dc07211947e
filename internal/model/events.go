package model

import (
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/pairs"
)

// FeedEvent is the tagged union FeedClient emits into the per-pair
// engine input channel (spec.md §3). Each concrete type below implements
// it so the engine's apply loop can use a type switch.
type FeedEvent interface {
	isFeedEvent()
	EventPair() pairs.ID
}

// BookSnapshotEvent carries a full book state, either the upstream's
// initial snapshot or a freshly-fetched resnapshot after a gap.
type BookSnapshotEvent struct {
	Pair      pairs.ID
	Bids      []PriceLevel
	Asks      []PriceLevel
	LastPrice *decimal.Decimal
	Sequence  uint64
	Timestamp time.Time
}

func (BookSnapshotEvent) isFeedEvent()          {}
func (e BookSnapshotEvent) EventPair() pairs.ID { return e.Pair }

// BookDeltaEvent carries an incremental change plus the sequence the
// engine must validate contiguity against (spec.md §4.1/§4.2).
type BookDeltaEvent struct {
	Pair      pairs.ID
	Bids      []PriceLevel
	Asks      []PriceLevel
	LastPrice *decimal.Decimal
	Sequence  uint64
	Timestamp time.Time
}

func (BookDeltaEvent) isFeedEvent()            {}
func (e BookDeltaEvent) EventPair() pairs.ID { return e.Pair }

// OhlcEvent carries a one-minute candle update.
type OhlcEvent struct {
	Bar OhlcBar
}

func (OhlcEvent) isFeedEvent()            {}
func (e OhlcEvent) EventPair() pairs.ID { return e.Bar.Pair }

// HeartbeatEvent is dispatched to the engine for every heartbeat frame
// and consumed silently there; the FeedClient itself uses heartbeat
// frames to refresh its idle-disconnect read deadline.
type HeartbeatEvent struct {
	Pair pairs.ID
}

func (HeartbeatEvent) isFeedEvent()          {}
func (e HeartbeatEvent) EventPair() pairs.ID { return e.Pair }

// SubscriptionAckEvent confirms a (pair, channel) subscription request.
type SubscriptionAckEvent struct {
	Pair    pairs.ID
	Channel string
}

func (SubscriptionAckEvent) isFeedEvent()          {}
func (e SubscriptionAckEvent) EventPair() pairs.ID { return e.Pair }

// ErrorEvent reports an upstream-side error for a pair; it is logged,
// never forwarded to clients verbatim (spec.md §7).
type ErrorEvent struct {
	Pair    pairs.ID
	Message string
}

func (ErrorEvent) isFeedEvent()          {}
func (e ErrorEvent) EventPair() pairs.ID { return e.Pair }

// ResetEvent tells the engine to discard state and wait for a fresh
// snapshot — emitted by FeedClient after every (re)connect (spec.md
// §4.1 "Reconnection", §4.2 "Reset"). The engine's own resets on a
// detected ordering violation call its reset method directly and do not
// go through this event.
type ResetEvent struct {
	Pair   pairs.ID
	Reason string
}

func (ResetEvent) isFeedEvent()          {}
func (e ResetEvent) EventPair() pairs.ID { return e.Pair }
