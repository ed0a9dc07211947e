// Package engine implements the OrderbookEngine from spec.md §4.2: one
// task per pair, single writer to that pair's Book, consuming FeedEvents
// in order and emitting BookUpdates.
//
// Grounded on the teacher's internal/orderbook/orderbook.go
// handleDepthEvent case-switch (in-sequence / stale / gap-triggers-
// resnapshot), adapted from Binance's U/u update-ID window to this
// spec's strict sequence == book.sequence+1 contiguity rule.
package engine

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketdata/internal/model"
	"marketdata/internal/pairs"
)

// State is the engine's position in the state machine from spec.md
// §4.2: Init -> Live -> AwaitingSnapshot -> Live, or shutdown from any
// state.
type State int

const (
	StateInit State = iota
	StateLive
	StateAwaitingSnapshot
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLive:
		return "live"
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	default:
		return "unknown"
	}
}

// Resubscriber is the out-of-band hook the engine uses to ask
// FeedClient to resubscribe a pair after a gap or crossed-book reset
// (spec.md §4.1 "Failure semantics").
type Resubscriber interface {
	Resubscribe(pair pairs.ID, reason string)
}

// Engine owns exactly one pair's Book and applies FeedEvents to it on a
// single goroutine (spec.md §4.2 "Single-writer discipline").
type Engine struct {
	pair   pairs.ID
	book   *model.Book
	state  State
	events <-chan model.FeedEvent
	out    chan model.BookUpdate
	ohlc   chan model.OhlcBar

	resub     Resubscriber
	log       zerolog.Logger
	snapshots chan snapshotRequest
}

// Config bundles Engine construction parameters.
type Config struct {
	Pair         pairs.ID
	Events       <-chan model.FeedEvent
	Resubscriber Resubscriber
	Logger       zerolog.Logger
	// UpdatesBuffer/OhlcBuffer size the engine's own output channels,
	// which the Broadcaster drains immediately; they exist only to
	// decouple apply() from a momentarily busy broadcaster goroutine.
	UpdatesBuffer int
	OhlcBuffer    int
}

// New constructs an Engine for one pair. Call Run to start consuming.
func New(cfg Config) *Engine {
	if cfg.UpdatesBuffer <= 0 {
		cfg.UpdatesBuffer = 64
	}
	if cfg.OhlcBuffer <= 0 {
		cfg.OhlcBuffer = 16
	}
	return &Engine{
		pair:      cfg.Pair,
		book:      model.NewBook(cfg.Pair),
		state:     StateInit,
		events:    cfg.Events,
		out:       make(chan model.BookUpdate, cfg.UpdatesBuffer),
		ohlc:      make(chan model.OhlcBar, cfg.OhlcBuffer),
		resub:     cfg.Resubscriber,
		log:       cfg.Logger.With().Str("pair", string(cfg.Pair)).Logger(),
		snapshots: make(chan snapshotRequest),
	}
}

// Updates returns the channel BookUpdates are published to. The
// Broadcaster is the sole reader.
func (e *Engine) Updates() <-chan model.BookUpdate { return e.out }

// Ohlc returns the channel OhlcBars are published to.
func (e *Engine) Ohlc() <-chan model.OhlcBar { return e.ohlc }

// State reports the engine's current state machine position. Safe to
// call from other goroutines only for observability (metrics,
// /healthz); it is not synchronized against apply() beyond the
// underlying int read being atomic-by-convention-violating-but-harmless
// for a diagnostic snapshot, so callers must not branch engine behavior
// on it.
func (e *Engine) State() State { return e.state }

func (e *Engine) currentBookUpdate() model.BookUpdate {
	return e.book.ToBookUpdate()
}

// snapshotRequest is how the SnapshotStore timer and a joining
// LiveSession ask the engine's own goroutine for a consistent
// point-in-time view without taking a lock, per spec.md §4.2 and §5
// ("the engine task is single-threaded").
type snapshotRequest struct {
	reply chan snapshotReply
}

// snapshotReply is the answer to a RequestSnapshot call: the full
// current book (only meaningful when OK is true) and the engine's
// state at the moment it was produced.
type snapshotReply struct {
	update model.BookUpdate
	state  State
	ok     bool
}

// RequestSnapshot asks the engine's own goroutine for a consistent
// point-in-time view of the book. It blocks until Run answers or ctx is
// done. ok is false while the engine is AwaitingSnapshot or Init — the
// caller (snapshot timer, LiveSession join) should wait and retry.
func (e *Engine) RequestSnapshot(ctx context.Context) (update model.BookUpdate, state State, ok bool, err error) {
	reply := make(chan snapshotReply, 1)
	select {
	case e.snapshots <- snapshotRequest{reply: reply}:
	case <-ctx.Done():
		return model.BookUpdate{}, StateInit, false, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.update, r.state, r.ok, nil
	case <-ctx.Done():
		return model.BookUpdate{}, StateInit, false, ctx.Err()
	}
}

// Run consumes events until ctx is cancelled or the input channel
// closes. It is meant to be the body of exactly one goroutine per pair.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(e.out)
			close(e.ohlc)
			return
		case ev, ok := <-e.events:
			if !ok {
				close(e.out)
				close(e.ohlc)
				return
			}
			e.apply(ev)
		case req := <-e.snapshots:
			e.answerSnapshot(req)
		}
	}
}

func (e *Engine) answerSnapshot(req snapshotRequest) {
	reply := snapshotReply{state: e.state}
	if e.state == StateLive {
		reply.update = e.currentBookUpdate()
		reply.ok = true
	}
	select {
	case req.reply <- reply:
	default:
	}
}

// apply runs fully synchronously to completion per event, with no
// suspension points, as spec.md §5 requires.
func (e *Engine) apply(ev model.FeedEvent) {
	switch typed := ev.(type) {
	case model.ResetEvent:
		e.reset(typed.Reason)

	case model.BookSnapshotEvent:
		e.applySnapshot(typed)

	case model.BookDeltaEvent:
		e.applyDelta(typed)

	case model.OhlcEvent:
		e.publishOhlc(typed.Bar)

	case model.HeartbeatEvent, model.SubscriptionAckEvent:
		// no book effect; consumed silently per spec.md §4.1.

	case model.ErrorEvent:
		e.log.Warn().Str("message", typed.Message).Msg("upstream error event")
	}
}

func (e *Engine) reset(reason string) {
	e.log.Info().Str("reason", reason).Msg("engine reset, awaiting snapshot")
	e.book = model.NewBook(e.pair)
	e.state = StateAwaitingSnapshot
}

func (e *Engine) applySnapshot(ev model.BookSnapshotEvent) {
	e.book.ApplySnapshot(ev.Bids, ev.Asks, ev.LastPrice, ev.Sequence, ev.Timestamp)
	e.state = StateLive
	e.publish(e.book.ToBookUpdate())
	e.log.Debug().Uint64("sequence", ev.Sequence).Msg("applied snapshot")
}

func (e *Engine) applyDelta(ev model.BookDeltaEvent) {
	if e.state != StateLive {
		// spec.md §4.2: "While AwaitingSnapshot: drop all BookDeltas".
		e.log.Debug().Msg("dropping delta while awaiting snapshot")
		return
	}
	if ev.Sequence != e.book.Sequence+1 {
		e.log.Warn().
			Uint64("expected", e.book.Sequence+1).
			Uint64("got", ev.Sequence).
			Msg("sequence gap detected")
		e.reset("sequence gap")
		if e.resub != nil {
			e.resub.Resubscribe(e.pair, "sequence gap")
		}
		return
	}

	changedBids, changedAsks := e.book.ApplyDelta(ev.Bids, ev.Asks, ev.LastPrice, ev.Sequence, ev.Timestamp)

	if e.book.Crossed() {
		e.log.Warn().Msg("crossed book detected, resetting")
		e.reset("crossed book")
		if e.resub != nil {
			e.resub.Resubscribe(e.pair, "crossed book")
		}
		return
	}

	var lastPrice *decimal.Decimal
	if e.book.LastPrice != nil {
		v := *e.book.LastPrice
		lastPrice = &v
	}
	e.publish(model.BookUpdate{
		Pair:      e.pair,
		Kind:      model.KindDelta,
		Bids:      changedBids,
		Asks:      changedAsks,
		LastPrice: lastPrice,
		Sequence:  e.book.Sequence,
		Timestamp: ev.Timestamp,
	})
}

func (e *Engine) publish(update model.BookUpdate) {
	select {
	case e.out <- update:
	default:
		// The Broadcaster is expected to drain this channel immediately;
		// a full buffer here means the broadcaster goroutine itself is
		// stalled, which must never stall the engine's apply loop
		// (spec.md §4.4 "Publication never blocks the producer").
		e.log.Warn().Msg("engine output buffer full, dropping update")
	}
}

func (e *Engine) publishOhlc(bar model.OhlcBar) {
	select {
	case e.ohlc <- bar:
	default:
		e.log.Warn().Msg("engine ohlc buffer full, dropping bar")
	}
}

