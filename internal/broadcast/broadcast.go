// Package broadcast implements the per-pair, per-channel fan-out
// primitive from spec.md §4.4: one producer (an Engine), many
// consumers (LiveSessions), a bounded ring buffer per consumer, and a
// non-blocking publish so a slow consumer never stalls the producer or
// its siblings.
//
// Grounded on two teacher patterns merged: pkg/eventbus/eventbus.go's
// subscriber-registry lifecycle for Subscribe/Unsubscribe, and
// internal/orderbook/orderbook.go's buffered-channel-with-drop publish
// (select { case ch <- ev: default: log "dropped" }), generalized from
// an unconditional silent drop into a Lagged{count} signal so a
// consumer can tell it fell behind rather than silently losing order.
package broadcast

import "sync"

// Lagged is delivered to a Receiver in place of the messages it missed
// because it fell behind by more than the ring buffer's capacity
// (spec.md §4.4 "Consumers that fall behind ... observe a Lagged
// signal").
type Lagged struct {
	Count int
}

// Receiver is a single consumer's view of a Broadcaster. T is delivered
// in the same order for every receiver on the same Broadcaster
// (spec.md §4.4 "Ordering").
type Receiver[T any] struct {
	ch   chan any // carries either T or Lagged
	b    *Broadcaster[T]
	once sync.Once
}

// Recv blocks until the next message or Lagged signal. The second
// return value is false if the broadcaster has been closed and the
// receiver's buffer has drained.
func (r *Receiver[T]) Recv() (any, bool) {
	v, ok := <-r.ch
	return v, ok
}

// C exposes the receiver's underlying channel for callers that need to
// select across multiple receivers at once (e.g. LiveSession's forward
// loop reading both the book and ohlc channels concurrently).
func (r *Receiver[T]) C() <-chan any {
	return r.ch
}

// Close unsubscribes the receiver. Safe to call more than once and
// safe to call concurrently with Recv.
func (r *Receiver[T]) Close() {
	r.once.Do(func() {
		r.b.unsubscribe(r)
	})
}

// Broadcaster fans out values of type T to any number of Receivers with
// a bounded per-receiver ring buffer of capacity. Publish never blocks:
// a receiver that can't keep up is dropped-from-under and told via
// Lagged how many messages it missed (spec.md §4.4 "Contract").
type Broadcaster[T any] struct {
	mu          sync.Mutex
	capacity    int
	receivers   map[*Receiver[T]]*lagCounter
	closed      bool
	totalDropped int
}

// lagCounter tracks how many messages were dropped for a receiver since
// its last Lagged report was enqueued, so the next Lagged report is
// accurate even across repeated full-buffer drops.
type lagCounter struct {
	missed int
}

// New constructs a Broadcaster whose receivers each get a ring buffer
// of capacity messages (spec.md §6 broadcast_capacity, default 256).
func New[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = 256
	}
	return &Broadcaster[T]{
		capacity:  capacity,
		receivers: make(map[*Receiver[T]]*lagCounter),
	}
}

// Subscribe registers a new Receiver. Callers must Close it when done.
func (b *Broadcaster[T]) Subscribe() *Receiver[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := &Receiver[T]{
		ch: make(chan any, b.capacity),
		b:  b,
	}
	if b.closed {
		close(r.ch)
		return r
	}
	b.receivers[r] = &lagCounter{}
	return r
}

func (b *Broadcaster[T]) unsubscribe(r *Receiver[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.receivers[r]; ok {
		delete(b.receivers, r)
		close(r.ch)
	}
}

// Publish delivers v to every current receiver without blocking. A
// receiver whose buffer is full has its oldest queued entry evicted to
// make room (spec.md §8 property 7 "exactly the oldest message is
// overwritten"), so a lagging consumer always catches up to the
// freshest state rather than draining a stale backlog; what the evicted
// entry stood for is added to its missed count, and the next Publish
// enqueues a Lagged{count} ahead of that call's own value.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for r, lag := range b.receivers {
		if lag.missed > 0 {
			if !trySend(r.ch, Lagged{Count: lag.missed}) {
				lag.missed += evictOldest(r.ch)
				trySend(r.ch, Lagged{Count: lag.missed})
				b.totalDropped++
			}
			lag.missed = 0
		}
		if !trySend(r.ch, v) {
			lag.missed += evictOldest(r.ch)
			trySend(r.ch, v)
			b.totalDropped++
		}
	}
}

// trySend makes one non-blocking attempt to enqueue msg.
func trySend(ch chan any, msg any) bool {
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// evictOldest drops the single oldest queued entry, if any, to free a
// slot for the freshest message, and reports how many published
// messages that entry stood for: 1 for a value, Count for a Lagged.
func evictOldest(ch chan any) int {
	select {
	case old := <-ch:
		if l, ok := old.(Lagged); ok {
			return l.Count
		}
		return 1
	default:
		return 0
	}
}

// Dropped reports the cumulative number of messages dropped for slow
// receivers since construction, exposed for the /metrics
// BroadcastDropped counter.
func (b *Broadcaster[T]) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalDropped
}

// Close shuts the broadcaster down: every current and future receiver's
// channel is closed, unblocking any pending Recv calls.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for r := range b.receivers {
		close(r.ch)
	}
	b.receivers = make(map[*Receiver[T]]*lagCounter)
}

// Len reports the current receiver count, exposed for the active-session
// style metrics gauges (spec.md §3 supplemented PairStats).
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.receivers)
}
