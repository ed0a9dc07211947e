// Package supervisor wires every long-lived task together and owns
// graceful shutdown, per spec.md §4.7: one FeedClient, one Engine task
// per configured pair, one snapshot-timer per pair, and the HTTP
// listener, all cancelled by a single signal.
//
// Grounded on pkg/shutdown/shutdown.go's named-callback pattern combined
// with golang.org/x/sync/errgroup for the actual task group — an
// ecosystem library already implied by the retrieval pack (see
// VladKochetov007/lob_view's go.mod) for exactly this "one error
// cancels the group" shape, cleaner than the teacher's raw
// sync.WaitGroup + callback-list for a task set whose members can
// themselves fail and need to cancel their siblings.
package supervisor

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/broadcast"
	"marketdata/internal/config"
	"marketdata/internal/engine"
	"marketdata/internal/feedclient"
	"marketdata/internal/historyapi"
	"marketdata/internal/metrics"
	"marketdata/internal/model"
	"marketdata/internal/pairs"
	"marketdata/internal/session"
	"marketdata/internal/snapshotstore"
)

// Supervisor owns every component instance and the errgroup task set
// that runs them (spec.md §5 "Tasks").
type Supervisor struct {
	cfg     *config.Config
	pairs   *pairs.Table
	log     zerolog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Registry

	feed      *feedclient.Client
	engines   map[pairs.ID]*engine.Engine
	runtimes  map[pairs.ID]*session.PairRuntime
	store     *snapshotstore.Store
	sessions  *session.Manager
	router    *gin.Engine

	lastFeedReconnects  int
	lastFeedParseErrors int
}

// New wires every component from cfg but starts nothing; call Run to
// start the task group.
func New(cfg *config.Config, log zerolog.Logger) *Supervisor {
	ids := make([]pairs.ID, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		ids = append(ids, pairs.ID(p))
	}
	pairTable := pairs.NewTable(ids)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	feedMetrics := &feedclient.Metrics{}
	feed := feedclient.New(feedclient.Config{
		URL:              cfg.UpstreamURL,
		Pairs:            pairTable,
		Logger:           log,
		Metrics:          feedMetrics,
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		SubscribeTimeout: cfg.SubscribeTimeout(),
		ChannelBuffer:    256,
	})

	store := snapshotstore.New(pairTable.All(), int64(cfg.SnapshotIntervalSecs), int64(cfg.RetentionWindowSecs))

	engines := make(map[pairs.ID]*engine.Engine, len(ids))
	runtimes := make(map[pairs.ID]*session.PairRuntime, len(ids))
	for _, id := range ids {
		e := engine.New(engine.Config{
			Pair:         id,
			Events:       feed.Events(id),
			Resubscriber: feed,
			Logger:       log,
		})
		engines[id] = e
		runtimes[id] = &session.PairRuntime{
			Book:      broadcast.New[model.BookUpdate](cfg.BroadcastCapacity),
			Ohlc:      broadcast.New[model.OhlcBar](cfg.BroadcastCapacity),
			Snapshots: e,
		}
	}

	sessions := session.NewManager(session.Config{
		Pairs:                  pairTable,
		Runtimes:               runtimes,
		Logger:                 log,
		InitialSnapshotTimeout: cfg.InitialSnapshotTimeoutDuration(),
		WriteTimeout:           cfg.RequestTimeout(),
	})

	router := gin.New()
	router.Use(gin.Recovery())

	return &Supervisor{
		cfg:      cfg,
		pairs:    pairTable,
		log:      log,
		reg:      reg,
		metrics:  metricsReg,
		feed:     feed,
		engines:  engines,
		runtimes: runtimes,
		store:    store,
		sessions: sessions,
		router:   router,
	}
}

// State implements historyapi.EngineStates.
func (s *Supervisor) State(pair pairs.ID) (engine.State, bool) {
	e, ok := s.engines[pair]
	if !ok {
		return engine.StateInit, false
	}
	return e.State(), true
}

// Run starts every task under an errgroup.WithContext(ctx) and blocks
// until ctx is cancelled and every task has drained, or any task
// returns a fatal error (which cancels the rest via the shared
// context — spec.md §4.7 "a single cancellation signal propagates to
// all long-lived tasks").
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	router := s.router
	api := router.Group("/api/v1")
	h := historyapi.New(s.pairs, s.store, s, s.cfg.RequestTimeout())
	h.Register(router, api, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	router.GET("/live", s.sessions.Handle)

	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: router,
		// Request contexts derive from the group context, so open
		// LiveSessions see shutdown and close with code 1001.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		return s.feed.Run(gctx)
	})

	for id, e := range s.engines {
		e := e
		id := id
		g.Go(func() error {
			e.Run(gctx)
			s.log.Debug().Str("pair", string(id)).Msg("engine task stopped")
			return nil
		})
	}

	for id := range s.engines {
		id := id
		g.Go(func() error {
			return s.pumpUpdates(gctx, id)
		})
	}

	for id := range s.engines {
		id := id
		g.Go(func() error {
			return s.snapshotTimer(gctx, id)
		})
	}

	g.Go(func() error {
		return s.metricsTicker(gctx)
	})

	g.Go(func() error {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainGrace())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// pumpUpdates forwards one pair's engine output channels onto its
// Broadcaster, the glue between Engine and Broadcaster in the pipeline
// diagram (spec.md §2).
func (s *Supervisor) pumpUpdates(ctx context.Context, id pairs.ID) error {
	e := s.engines[id]
	rt := s.runtimes[id]
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-e.Updates():
			if !ok {
				return nil
			}
			rt.Book.Publish(u)
		case bar, ok := <-e.Ohlc():
			if !ok {
				return nil
			}
			rt.Ohlc.Publish(bar)
		}
	}
}

// snapshotTimer fires every snapshot_interval_secs and, if the engine is
// Live, captures the book into the SnapshotStore (spec.md §4.3
// "Capture").
func (s *Supervisor) snapshotTimer(ctx context.Context, id pairs.ID) error {
	e := s.engines[id]
	interval := s.cfg.SnapshotInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, interval)
			update, state, ok, err := e.RequestSnapshot(reqCtx)
			cancel()
			if err != nil || !ok || state != engine.StateLive {
				continue
			}
			now := time.Now().Unix()
			aligned := s.store.Align(now)
			snap := model.Snapshot{
				Pair:      id,
				Timestamp: aligned,
				LastPrice: update.LastPrice,
				Bids:      update.Bids,
				Asks:      update.Asks,
			}
			s.store.Insert(id, snap, now)
		}
	}
}

// metricsTicker periodically refreshes the gauges that have no natural
// push point (engine state, stored snapshot counts, active sessions,
// broadcast drops).
func (s *Supervisor) metricsTicker(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastDropped := make(map[pairs.ID]int)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reconnects, parseErrors := s.feed.Metrics().Snapshot()
			if delta := reconnects - s.lastFeedReconnects; delta > 0 {
				s.metrics.FeedReconnects.Add(float64(delta))
			}
			if delta := parseErrors - s.lastFeedParseErrors; delta > 0 {
				s.metrics.FeedParseErrors.Add(float64(delta))
			}
			s.lastFeedReconnects = reconnects
			s.lastFeedParseErrors = parseErrors

			for id, e := range s.engines {
				s.metrics.EngineState.WithLabelValues(string(id)).Set(float64(e.State()))
			}
			for _, id := range s.pairs.All() {
				s.metrics.SnapshotsStored.WithLabelValues(string(id)).Set(float64(s.store.Size(id)))

				rt := s.runtimes[id]
				bookDropped := rt.Book.Dropped()
				if delta := bookDropped - lastDropped[id]; delta > 0 {
					s.metrics.BroadcastDropped.WithLabelValues(string(id), "book").Add(float64(delta))
				}
				lastDropped[id] = bookDropped
			}
			s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveSessions()))
		}
	}
}
