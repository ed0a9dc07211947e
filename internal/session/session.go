// Package session implements LiveSession from spec.md §4.5: the
// per-client WebSocket lifetime behind `GET /live?ticker={pair}` —
// pre-upgrade validation, handshake (initial snapshot), and the forward
// loop that multiplexes a pair's book and ohlc broadcasts onto one
// connection.
//
// Grounded on pkg/wsapi/wsapi.go's ping/pong-deadline discipline
// (re-applied here to the server side: a PongHandler resets a read
// deadline so dead TCP peers are reaped even though clients never send
// meaningful frames) and api/pms.go's gin handler + ShouldBindJSON-then-
// 400 idiom, used here for pre-upgrade query validation.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketdata/internal/broadcast"
	"marketdata/internal/engine"
	"marketdata/internal/model"
	"marketdata/internal/pairs"
)

// SnapshotProvider is the subset of Engine a LiveSession needs: a
// point-in-time read of the live book (spec.md §4.2 current_snapshot()).
type SnapshotProvider interface {
	RequestSnapshot(ctx context.Context) (model.BookUpdate, engine.State, bool, error)
}

// PairRuntime bundles the per-pair broadcast channels and engine handle
// a LiveSession needs to join.
type PairRuntime struct {
	Book      *broadcast.Broadcaster[model.BookUpdate]
	Ohlc      *broadcast.Broadcaster[model.OhlcBar]
	Snapshots SnapshotProvider
}

// Manager serves /live and owns no per-connection state itself; each
// accepted connection becomes an independent goroutine running forward.
type Manager struct {
	pairs                  *pairs.Table
	runtimes               map[pairs.ID]*PairRuntime
	log                    zerolog.Logger
	upgrader               websocket.Upgrader
	initialSnapshotTimeout time.Duration
	writeTimeout           time.Duration
	activeSessions         *sessionGauge
}

// sessionGauge is a minimal counter kept here rather than in
// internal/metrics; neither package imports the other, and the
// supervisor copies ActiveSessions into the Prometheus gauge.
type sessionGauge struct {
	mu sync.Mutex
	n  int
}

func (g *sessionGauge) inc() {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
}

func (g *sessionGauge) dec() {
	g.mu.Lock()
	g.n--
	g.mu.Unlock()
}

func (g *sessionGauge) get() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Config bundles Manager construction parameters.
type Config struct {
	Pairs                  *pairs.Table
	Runtimes               map[pairs.ID]*PairRuntime
	Logger                 zerolog.Logger
	InitialSnapshotTimeout time.Duration // spec.md §6 initial_snapshot_timeout
	WriteTimeout           time.Duration
}

// NewManager constructs a Manager ready to be wired to a gin route.
func NewManager(cfg Config) *Manager {
	if cfg.InitialSnapshotTimeout <= 0 {
		cfg.InitialSnapshotTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Manager{
		pairs:    cfg.Pairs,
		runtimes: cfg.Runtimes,
		log:      cfg.Logger.With().Str("component", "livesession").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		initialSnapshotTimeout: cfg.InitialSnapshotTimeout,
		writeTimeout:           cfg.WriteTimeout,
		activeSessions:         &sessionGauge{},
	}
}

// ActiveSessions reports how many LiveSessions are currently open,
// exposed for the /metrics gauge (SPEC_FULL.md supplemented PairStats).
func (m *Manager) ActiveSessions() int {
	return m.activeSessions.get()
}

// Handle is the gin handler for GET /live: validates the pair before
// ever calling Upgrade (spec.md §4.5 "reject unknown pairs with HTTP
// 400 before upgrade"), then runs the session to completion.
func (m *Manager) Handle(c *gin.Context) {
	ticker := pairs.ID(c.Query("ticker"))
	rt, ok := m.runtimes[ticker]
	if ticker == "" || !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or missing ticker"})
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := uuid.NewString()
	m.runSession(c.Request.Context(), sessionID, ticker, rt, conn)
}

func (m *Manager) runSession(ctx context.Context, sessionID string, pair pairs.ID, rt *PairRuntime, conn *websocket.Conn) {
	log := m.log.With().Str("session", sessionID).Str("pair", string(pair)).Logger()
	m.activeSessions.inc()
	defer m.activeSessions.dec()

	bookRecv := rt.Book.Subscribe()
	ohlcRecv := rt.Ohlc.Subscribe()
	defer bookRecv.Close()
	defer ohlcRecv.Close()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.writeTimeout * 3))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(m.writeTimeout * 3))
	go drainReads(conn)

	if !m.sendInitialSnapshot(ctx, conn, rt) {
		log.Warn().Msg("initial snapshot wait timed out")
		closeWithCode(conn, websocket.CloseInternalServerErr, "initial snapshot timeout")
		return
	}

	log.Debug().Msg("live session started")
	m.forward(ctx, conn, bookRecv, ohlcRecv, rt, log)
}

// sendInitialSnapshot implements spec.md §4.5 step 4: send a full
// snapshot immediately if Live, or wait (bounded by
// initial_snapshot_timeout) for the engine to become Live.
func (m *Manager) sendInitialSnapshot(ctx context.Context, conn *websocket.Conn, rt *PairRuntime) bool {
	deadline := time.Now().Add(m.initialSnapshotTimeout)
	for {
		reqCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
		update, _, ok, err := rt.Snapshots.RequestSnapshot(reqCtx)
		cancel()
		if err == nil && ok {
			return m.writeFrame(conn, bookUpdateFrame(update)) == nil
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (m *Manager) forward(
	ctx context.Context,
	conn *websocket.Conn,
	bookRecv *broadcast.Receiver[model.BookUpdate],
	ohlcRecv *broadcast.Receiver[model.OhlcBar],
	rt *PairRuntime,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			// spec.md §4.5 "Cancellation": server shutdown sends close
			// code 1001 (CloseGoingAway).
			closeWithCode(conn, websocket.CloseGoingAway, "server shutdown")
			return

		case v, ok := <-bookRecv.C():
			if !ok {
				return
			}
			if err := m.deliverBook(conn, v, rt); err != nil {
				log.Debug().Err(err).Msg("book forward ended")
				return
			}

		case v, ok := <-ohlcRecv.C():
			if !ok {
				return
			}
			bar, isBar := v.(model.OhlcBar)
			if !isBar {
				continue // a Lagged signal on the ohlc channel has no recovery snapshot
			}
			if err := m.writeFrame(conn, ohlcFrame(bar)); err != nil {
				log.Debug().Err(err).Msg("ohlc forward ended")
				return
			}
		}
	}
}

// deliverBook handles both a normal BookUpdate and a Lagged signal on
// the book channel: on Lagged, per spec.md §4.5 "On Lagged: send a
// fresh Snapshot (one message) and continue".
func (m *Manager) deliverBook(conn *websocket.Conn, v any, rt *PairRuntime) error {
	switch typed := v.(type) {
	case model.BookUpdate:
		return m.writeFrame(conn, bookUpdateFrame(typed))
	case broadcast.Lagged:
		ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
		defer cancel()
		update, _, ok, err := rt.Snapshots.RequestSnapshot(ctx)
		if err != nil || !ok {
			return nil // engine not Live right now; the next real update will catch up
		}
		return m.writeFrame(conn, bookUpdateFrame(update))
	default:
		return nil
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, frame outboundFrame) error {
	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	return conn.WriteJSON(frame)
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

// drainReads discards whatever the client sends (spec.md §4.5 "Client
// -> server frames are ignored") while still running ReadMessage so
// gorilla/websocket's pong handler fires and control frames are
// processed; it returns once the connection errors or closes.
func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
