// Package feedclient implements the upstream WebSocket feed consumer
// from spec.md §4.1: dial, subscribe, read frames, translate them into
// model.FeedEvents, and reconnect with exponential backoff on any
// read/dial failure, emitting a ResetEvent on every reconnect so the
// engine knows prior state is no longer trustworthy.
//
// Grounded on pkg/wsapi/wsapi.go's dial/backoff/ping-pong-deadline
// machinery, reused here for the outbound (upstream) side rather than
// wsapi's inbound Binance-order-execution use, and on
// internal/feed/binance/feed.go's typed-subscription message shape.
package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketdata/internal/model"
	"marketdata/internal/pairs"
)

// Metrics is the supplemented FeedMetrics surface from SPEC_FULL.md
// §4.1: reconnect count, parse-error count, and last-heartbeat age,
// generalized from the teacher's ad-hoc numUpdateCall/numSnapshotCall
// atomics into counters a Prometheus collector can read.
type Metrics struct {
	mu              sync.Mutex
	reconnects      int
	parseErrors     int
	lastHeartbeatAt time.Time
}

func (m *Metrics) recordReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *Metrics) recordParseError() {
	m.mu.Lock()
	m.parseErrors++
	m.mu.Unlock()
}

// ParseErrors reports the cumulative parse-error count, for tests and
// the /metrics collector.
func (m *Metrics) ParseErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parseErrors
}

func (m *Metrics) recordHeartbeat(t time.Time) {
	m.mu.Lock()
	m.lastHeartbeatAt = t
	m.mu.Unlock()
}

// LastHeartbeatAge reports how long ago the last heartbeat frame (of
// any pair) was observed.
func (m *Metrics) LastHeartbeatAge(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastHeartbeatAt.IsZero() {
		return 0
	}
	return now.Sub(m.lastHeartbeatAt)
}

// Snapshot returns a consistent read of the reconnect/parse-error
// counters, for the /metrics periodic collector.
func (m *Metrics) Snapshot() (reconnects, parseErrors int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects, m.parseErrors
}

// wireFrame is the upstream wire shape. Snapshot-vs-delta-vs-other is
// resolved by an explicit "type" discriminator rather than a parse-time
// heuristic (spec.md §9 Open Question, resolved in DESIGN.md), matching
// how the teacher's Binance feed distinguishes frame kinds.
type wireFrame struct {
	Type      string          `json:"type"`
	Pair      string          `json:"pair"`
	Sequence  uint64          `json:"sequence"`
	Timestamp int64           `json:"timestamp"` // unix seconds
	LastPrice *decimal.Decimal `json:"lastPrice,omitempty"`
	Bids      []wireLevel     `json:"bids,omitempty"`
	Asks      []wireLevel     `json:"asks,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Message   string          `json:"message,omitempty"`
	Ohlc      *wireOhlc       `json:"ohlc,omitempty"`
}

type wireLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

type wireOhlc struct {
	IntervalSec int             `json:"intervalSec"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Vwap        decimal.Decimal `json:"vwap"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  uint32          `json:"tradeCount"`
	BarStart    int64           `json:"barStart"`
	BarEnd      int64           `json:"barEnd"`
}

func toLevels(ws []wireLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, len(ws))
	for i, w := range ws {
		out[i] = model.PriceLevel{Price: w.Price, Volume: w.Volume}
	}
	return out
}

// defaultParseErrorThreshold/Window bound spec.md §4.1's "repeated
// parse errors (>N in window) escalate to a reconnect" — the spec
// leaves N and the window unnamed in §6, so these are fixed constants
// rather than a config key, the same way the teacher hardcodes
// wsapi's ping interval.
const (
	defaultParseErrorThreshold = 5
	defaultParseErrorWindow    = 10 * time.Second
)

// Client dials a single upstream endpoint and demultiplexes frames for
// every configured pair onto per-pair event channels (spec.md §4.1
// "one FeedClient task" feeding every per-pair Engine).
//
// backoff and the parse-error window counters are only ever touched
// from the single goroutine that runs Run/readLoop/awaitAcks, so they
// need no lock of their own.
type Client struct {
	url              string
	pairs            *pairs.Table
	outputs          map[pairs.ID]chan model.FeedEvent
	log              zerolog.Logger
	metrics          *Metrics
	backoffBase      time.Duration
	backoffMax       time.Duration
	backoff          time.Duration
	readTimeout      time.Duration
	subscribeTimeout time.Duration

	parseErrThreshold  int
	parseErrWindow     time.Duration
	parseErrWindowFrom time.Time
	parseErrInWindow   int

	mu     sync.Mutex
	conn   *websocket.Conn
	dialer websocket.Dialer
}

// Config bundles Client construction parameters.
type Config struct {
	URL              string
	Pairs            *pairs.Table
	Logger           zerolog.Logger
	Metrics          *Metrics
	HeartbeatTimeout time.Duration // spec.md §6 heartbeat_timeout
	SubscribeTimeout time.Duration // spec.md §6 subscribe_timeout
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	ChannelBuffer    int
}

// New constructs a Client with one output channel per configured pair.
// Callers obtain a pair's event channel via Events before calling Run.
func New(cfg Config) *Client {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 256
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}

	outputs := make(map[pairs.ID]chan model.FeedEvent, len(cfg.Pairs.All()))
	for _, id := range cfg.Pairs.All() {
		outputs[id] = make(chan model.FeedEvent, cfg.ChannelBuffer)
	}

	return &Client{
		url:                cfg.URL,
		pairs:              cfg.Pairs,
		outputs:            outputs,
		log:                cfg.Logger.With().Str("component", "feedclient").Logger(),
		metrics:            cfg.Metrics,
		backoffBase:        cfg.BackoffBase,
		backoffMax:         cfg.BackoffMax,
		backoff:            cfg.BackoffBase,
		readTimeout:        cfg.HeartbeatTimeout,
		subscribeTimeout:   cfg.SubscribeTimeout,
		parseErrThreshold:  defaultParseErrorThreshold,
		parseErrWindow:     defaultParseErrorWindow,
	}
}

// Events returns the FeedEvent channel for pair. The caller (the
// pair's Engine) is the sole reader.
func (c *Client) Events(pair pairs.ID) <-chan model.FeedEvent {
	return c.outputs[pair]
}

// Metrics exposes the client's FeedMetrics for the /metrics collector.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Resubscribe implements engine.Resubscriber: it asks the upstream
// connection to resend a subscription for pair, used after a gap or
// crossed-book reset (spec.md §4.1 "Failure semantics").
func (c *Client) Resubscribe(pair pairs.ID, reason string) {
	upstream, ok := c.pairs.Upstream(pair)
	if !ok {
		return
	}
	c.log.Info().Str("pair", string(pair)).Str("reason", reason).Msg("resubscribing")
	c.send(subscribeFrame(upstream))
}

// Run dials, subscribes to every configured pair, and reads frames
// until ctx is cancelled, reconnecting with exponential backoff on any
// failure. Every (re)connect emits a ResetEvent per pair first, since a
// fresh connection means the engine must assume nothing about prior
// sequence state (spec.md §4.1 "Reconnection").
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.connect(ctx); err != nil {
			c.log.Error().Err(err).Msg("dial failed, backing off")
			if !c.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.broadcastReset("connected")
		c.subscribeAll()

		if err := c.awaitAcks(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("subscription ack timed out, reconnecting")
			c.closeConn()
			c.metrics.recordReconnect()
			if !c.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}
		c.resetBackoff()

		err := c.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("read loop ended, reconnecting")
		c.metrics.recordReconnect()
		if !c.sleepBackoff(ctx) {
			return ctx.Err()
		}
	}
}

// sleepBackoff waits the current backoff duration, then doubles it for
// the next failure, capped at backoffMax (spec.md §4.1 "Exponential
// backoff starting at 1 s, doubling to a cap of 30 s"). Grounded on
// pkg/wsapi/wsapi.go's reconnectWithBackoff.
func (c *Client) sleepBackoff(ctx context.Context) bool {
	wait := c.backoff
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
	}
	c.backoff *= 2
	if c.backoff > c.backoffMax {
		c.backoff = c.backoffMax
	}
	return true
}

// resetBackoff restores the backoff to its starting value, called once
// a connection's subscriptions are acked (spec.md §4.1 "reset on
// successful subscription ack").
func (c *Client) resetBackoff() {
	c.backoff = c.backoffBase
}

func (c *Client) connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("feedclient: parse url: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feedclient: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		return nil
	})
	return nil
}

func (c *Client) subscribeAll() {
	for _, id := range c.pairs.All() {
		upstream, _ := c.pairs.Upstream(id)
		c.send(subscribeFrame(upstream))
	}
}

// awaitAcks blocks until every configured pair has a SubscriptionAck on
// the current connection, or subscribeTimeout elapses. A timeout (or
// any read error) means the caller must disconnect and retry (spec.md
// §4.1 "wait for SubscriptionAck per (pair, channel) with timeout
// subscribe_timeout ... missing ack -> disconnect and retry").
func (c *Client) awaitAcks(ctx context.Context) error {
	pending := make(map[pairs.ID]bool, len(c.pairs.All()))
	for _, id := range c.pairs.All() {
		pending[id] = true
	}
	if len(pending) == 0 {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.subscribeTimeout))
	defer conn.SetReadDeadline(time.Now().Add(c.readTimeout))

	for len(pending) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feedclient: waiting for subscription ack: %w", err)
		}
		localPair, frameType := c.handleFrame(raw)
		if frameType == "ack" {
			delete(pending, localPair)
		}
	}
	return nil
}

func subscribeFrame(upstreamPair string) []byte {
	b, _ := json.Marshal(map[string]any{
		"op":   "subscribe",
		"pair": upstreamPair,
	})
	return b
}

func (c *Client) send(msg []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Warn().Err(err).Msg("failed to send subscription frame")
	}
}

func (c *Client) broadcastReset(reason string) {
	for _, id := range c.pairs.All() {
		c.dispatch(id, model.ResetEvent{Pair: id, Reason: reason})
	}
}

// closeConn drops the current connection, if any, so a blocked
// ReadMessage call returns an error and readLoop/awaitAcks unwind into
// Run's reconnect path.
func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if _, frameType := c.handleFrame(raw); frameType == "heartbeat" {
			conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
	}
}

// handleFrame decodes and dispatches one upstream frame, returning the
// local pair and frame type it resolved to (used by awaitAcks to watch
// for "ack" frames without a second JSON decode).
func (c *Client) handleFrame(raw []byte) (pairs.ID, string) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.noteParseError()
		c.log.Warn().Err(err).Msg("malformed upstream frame")
		return "", ""
	}

	localPair := c.localPairFor(frame.Pair)
	if localPair == "" && frame.Type != "error" {
		return "", frame.Type // not a pair we subscribed to
	}

	ts := time.Unix(frame.Timestamp, 0).UTC()

	switch frame.Type {
	case "snapshot":
		c.dispatch(localPair, model.BookSnapshotEvent{
			Pair: localPair, Bids: toLevels(frame.Bids), Asks: toLevels(frame.Asks),
			LastPrice: frame.LastPrice, Sequence: frame.Sequence, Timestamp: ts,
		})
	case "delta":
		c.dispatch(localPair, model.BookDeltaEvent{
			Pair: localPair, Bids: toLevels(frame.Bids), Asks: toLevels(frame.Asks),
			LastPrice: frame.LastPrice, Sequence: frame.Sequence, Timestamp: ts,
		})
	case "ohlc":
		if frame.Ohlc == nil {
			return localPair, frame.Type
		}
		o := frame.Ohlc
		c.dispatch(localPair, model.OhlcEvent{Bar: model.OhlcBar{
			Pair: localPair, IntervalSec: o.IntervalSec,
			Open: o.Open, High: o.High, Low: o.Low, Close: o.Close,
			Vwap: o.Vwap, Volume: o.Volume, TradeCount: o.TradeCount,
			BarStart: time.Unix(o.BarStart, 0).UTC(),
			BarEnd:   time.Unix(o.BarEnd, 0).UTC(),
		}})
	case "heartbeat":
		c.metrics.recordHeartbeat(time.Now())
		c.dispatch(localPair, model.HeartbeatEvent{Pair: localPair})
	case "ack":
		c.dispatch(localPair, model.SubscriptionAckEvent{Pair: localPair, Channel: frame.Channel})
	case "error":
		c.log.Warn().Str("message", frame.Message).Msg("upstream error frame")
		if localPair != "" {
			c.dispatch(localPair, model.ErrorEvent{Pair: localPair, Message: frame.Message})
		}
	default:
		c.noteParseError()
		c.log.Warn().Str("type", frame.Type).Msg("unrecognized upstream frame type")
	}
	return localPair, frame.Type
}

// noteParseError records a parse error for /metrics and, if more than
// parseErrThreshold have occurred within parseErrWindow, escalates to a
// reconnect by closing the connection (spec.md §4.1 "Repeated parse
// errors (>N in window) escalate to a reconnect").
func (c *Client) noteParseError() {
	c.metrics.recordParseError()

	now := time.Now()
	if now.Sub(c.parseErrWindowFrom) > c.parseErrWindow {
		c.parseErrWindowFrom = now
		c.parseErrInWindow = 0
	}
	c.parseErrInWindow++
	if c.parseErrInWindow > c.parseErrThreshold {
		c.log.Warn().Int("count", c.parseErrInWindow).Msg("parse error threshold exceeded, forcing reconnect")
		c.parseErrInWindow = 0
		c.closeConn()
	}
}

func (c *Client) localPairFor(upstream string) pairs.ID {
	for _, id := range c.pairs.All() {
		if u, ok := c.pairs.Upstream(id); ok && u == upstream {
			return id
		}
	}
	return ""
}

func (c *Client) dispatch(pair pairs.ID, ev model.FeedEvent) {
	ch, ok := c.outputs[pair]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		c.log.Warn().Str("pair", string(pair)).Msg("engine input buffer full, dropping upstream event")
	}
}
