// Package shutdown implements the named-callback graceful shutdown
// pattern the Supervisor uses (spec.md §4.7): a single cancellation
// signal, fired by an OS signal or programmatically, propagates a
// context.Context to every long-lived task, and a set of named
// callbacks then get a bounded grace period to finish cleanup.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Shutdown owns the root cancellation context and the registered
// cleanup callbacks run after it fires.
type Shutdown struct {
	logger    zerolog.Logger
	rootCtx   context.Context
	cancel    func()
	mutex     sync.Mutex
	callbacks []callback
	sigCh     chan os.Signal
}

type callback struct {
	name    string
	f       func()
	timeout time.Duration
}

// NewShutdown constructs a Shutdown whose root context is cancelled on
// WaitForShutdown or ShutdownNow.
func NewShutdown(logger zerolog.Logger) *Shutdown {
	ctx, cancel := context.WithCancel(context.Background())
	return &Shutdown{
		logger:    logger,
		rootCtx:   ctx,
		cancel:    cancel,
		callbacks: make([]callback, 0),
		sigCh:     make(chan os.Signal, 1),
	}
}

// HookShutdownCallback registers a callback run during shutdown. If
// timeout is 0 the callback runs without a deadline; otherwise a
// timeout is logged as an error without blocking the other callbacks.
func (s *Shutdown) HookShutdownCallback(name string, f func(), timeout time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.callbacks = append(s.callbacks, callback{name: name, f: f, timeout: timeout})
}

// Context is the root cancellation context; pass it (or a context
// derived from it via errgroup.WithContext) to every long-lived task so
// a single signal stops them all (spec.md §4.7, §5).
func (s *Shutdown) Context() context.Context {
	return s.rootCtx
}

// SysDown reports when the root context has been cancelled.
func (s *Shutdown) SysDown() <-chan struct{} {
	return s.rootCtx.Done()
}

// WaitForShutdown blocks until one of sigs arrives, then cancels the
// root context and runs every registered callback.
func (s *Shutdown) WaitForShutdown(sigs ...os.Signal) {
	if len(sigs) > 0 {
		signal.Notify(s.sigCh, sigs...)
	}
	<-s.sigCh
	s.logger.Info().Msg("shutdown signal received")
	s.cancel()
	s.shutdown()
	s.logger.Info().Msg("shutdown completed")
}

// ShutdownNow triggers the shutdown sequence programmatically, e.g.
// when an errgroup task returns a fatal error and the rest of the
// group should drain too.
func (s *Shutdown) ShutdownNow() {
	s.logger.Info().Msg("manual shutdown triggered")
	s.cancel()
	s.shutdown()
	s.logger.Info().Msg("shutdown completed")
}

func (s *Shutdown) shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var wg sync.WaitGroup
	for _, cb := range s.callbacks {
		wg.Add(1)
		go func(cb callback) {
			defer wg.Done()
			s.logger.Info().Str("callback", cb.name).Msg("running shutdown callback")

			ctx := context.Background()
			var cancel context.CancelFunc
			if cb.timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, cb.timeout)
				defer cancel()
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				cb.f()
			}()

			select {
			case <-done:
				s.logger.Info().Str("callback", cb.name).Msg("shutdown callback done")
			case <-ctx.Done():
				if cb.timeout > 0 {
					s.logger.Error().Str("callback", cb.name).Dur("timeout", cb.timeout).Msg("shutdown callback timed out")
				}
			}
		}(cb)
	}
	wg.Wait()
}
