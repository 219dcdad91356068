package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kuzzle-realtime/internal/connection"
)

// Transport is the connection the session multiplexes over.
// connection.Manager satisfies it.
type Transport interface {
	Send(data []byte) error
	Events() <-chan connection.Event
	IsConnected() bool
}

// Config configures a Session.
type Config struct {
	RequestTimeout     time.Duration
	PingInterval       time.Duration
	AuthToken          string // initial bearer token ("" = anonymous)
	FailPendingOnClose bool   // fail in-flight requests when the connection closes instead of waiting for their timeout
}

// DefaultConfig returns the Kuzzle SDK defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: DefaultRequestTimeout,
		PingInterval:   DefaultPingInterval,
	}
}

// Session wires the keepalive, auth cleanup, correlation engine and
// subscription registry to one transport.
type Session struct {
	cfg        Config
	logger     *slog.Logger
	transport  Transport
	instanceID string

	engine     *Engine
	keepalive  *Keepalive
	auth       *AuthCleanup
	registry   *Registry
	dispatcher *Dispatcher

	listenersMu sync.RWMutex
	listeners   []func(connection.Event)

	running  atomic.Bool
	restores sync.WaitGroup
}

// New creates a session bound to transport. Call Run to start processing events.
func New(transport Transport, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	instanceID := uuid.NewString()
	logger = logger.With("session", instanceID)

	engine := NewEngine(transport, cfg.RequestTimeout, instanceID, cfg.AuthToken, logger)
	keepalive := NewKeepalive(engine, logger)
	auth := NewAuthCleanup(engine, logger)
	registry := NewRegistry(engine, instanceID, logger)

	return &Session{
		cfg:        cfg,
		logger:     logger,
		transport:  transport,
		instanceID: instanceID,
		engine:     engine,
		keepalive:  keepalive,
		auth:       auth,
		registry:   registry,
		dispatcher: NewDispatcher(logger, keepalive, auth, engine, registry),
	}
}

// Run processes transport events until the event stream closes or ctx is done.
// Events are handled one at a time, so messages are dispatched in arrival order.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return connection.ErrAlreadyStarted
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.keepalive.Stop()
		s.restores.Wait()
	}()

	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("transport closed")
				return nil
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev connection.Event) {
	switch ev.Kind {
	case connection.EventOpened:
		s.keepalive.Start(s.cfg.PingInterval)
		s.logger.Info("connected")

		// Replays wait on replies that only this loop can dispatch.
		s.restores.Add(1)
		go func() {
			defer s.restores.Done()
			if err := s.registry.RestoreSubscriptions(ctx); err != nil {
				s.logger.Error("restoring subscriptions failed", "error", err)
			}
		}()

	case connection.EventClosed:
		s.keepalive.Stop()
		if s.cfg.FailPendingOnClose {
			if n := s.engine.FailPending(ErrConnectionClosed); n > 0 {
				s.logger.Warn("failed in-flight requests", "count", n)
			}
		}
		s.logger.Info("disconnected")

	case connection.EventErrored:
		s.logger.Warn("transport error", "error", ev.Err)

	case connection.EventMessage:
		s.dispatcher.Dispatch(ev.Data)
	}

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// OnEvent registers fn for every lifecycle event after the session has handled it.
// fn runs on the event loop and must not block on requests.
func (s *Session) OnEvent(fn func(connection.Event)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// Requester returns the correlation engine.
func (s *Session) Requester() *Engine {
	return s.engine
}

// Realtime returns the subscription registry.
func (s *Session) Realtime() *Registry {
	return s.registry
}

// InstanceID returns the identity this session attaches to every request.
func (s *Session) InstanceID() string {
	return s.instanceID
}

// IsConnected reports the transport connection state.
func (s *Session) IsConnected() bool {
	return s.transport.IsConnected()
}

// Disconnect stops the transport if it supports stopping.
// Run returns once the transport closes its event stream.
func (s *Session) Disconnect(ctx context.Context) error {
	s.keepalive.Stop()

	if stopper, ok := s.transport.(interface{ Stop(context.Context) error }); ok {
		return stopper.Stop(ctx)
	}
	return nil
}
