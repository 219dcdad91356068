package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/metrics"
)

// Manager keeps one WebSocket connection alive and publishes its lifecycle.
type Manager interface {
	// Start begins connecting in the background.
	Start(ctx context.Context) error

	// Stop closes the connection and the event channel.
	Stop(ctx context.Context) error

	// Send writes raw bytes to the current connection.
	Send(data []byte) error

	// Events returns the ordered stream of lifecycle events and inbound frames.
	Events() <-chan Event

	// IsConnected returns current connection state.
	IsConnected() bool

	// Stats returns connection statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the transport.
type ManagerStats struct {
	Connected        bool
	Reconnects       int64
	MessagesReceived int64
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	events chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	mu     sync.RWMutex
	client Client

	reconnects int64 // Atomic
	received   int64 // Atomic
}

// NewManager creates a new reconnecting transport.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &manager{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBufferSize),
	}
}

// Start begins the connect loop.
func (m *manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("transport started", "url", m.cfg.URL)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}

	m.logger.Info("stopping transport")

	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c != nil {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(m.events)
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, transport loop still running")
		return ctx.Err()
	}

	metrics.SetConnected(false)
	m.logger.Info("transport stopped")
	return nil
}

// Send writes raw bytes to the current connection.
func (m *manager) Send(data []byte) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.Send(data)
}

// Events returns the event channel.
func (m *manager) Events() <-chan Event {
	return m.events
}

// IsConnected returns the current connection state.
func (m *manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil && m.client.IsConnected()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	return ManagerStats{
		Connected:        m.IsConnected(),
		Reconnects:       atomic.LoadInt64(&m.reconnects),
		MessagesReceived: atomic.LoadInt64(&m.received),
	}
}

func (m *manager) clientConfig() ClientConfig {
	return ClientConfig{
		URL:              m.cfg.URL,
		Header:           m.cfg.Header,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		ReadTimeout:      m.cfg.ReadTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.EventBufferSize,
	}
}

// run connects, pumps frames until the connection fails, then reconnects
// with exponential backoff.
func (m *manager) run() {
	defer m.wg.Done()

	wait := m.cfg.ReconnectBaseWait
	maxWait := m.cfg.ReconnectMaxWait
	everConnected := false

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		c := NewClient(m.clientConfig(), m.logger)
		if err := c.Connect(m.ctx); err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Warn("connection failed",
				"url", m.cfg.URL,
				"attempt", attempt+1,
				"retry_in", wait,
				"error", err,
			)
			m.emit(Event{Kind: EventErrored, Err: err, At: time.Now()})

			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		wait = m.cfg.ReconnectBaseWait

		m.mu.Lock()
		m.client = c
		m.mu.Unlock()

		if everConnected {
			atomic.AddInt64(&m.reconnects, 1)
			metrics.RecordReconnect()
			m.logger.Info("reconnected", "url", m.cfg.URL)
		}
		everConnected = true
		metrics.SetConnected(true)

		m.emit(Event{Kind: EventOpened, At: time.Now()})

		err := m.pump(c)

		m.mu.Lock()
		m.client = nil
		m.mu.Unlock()
		c.Close()
		metrics.SetConnected(false)

		if err != nil {
			m.logger.Warn("connection error", "error", err)
			m.emit(Event{Kind: EventErrored, Err: err, At: time.Now()})
		}
		m.emit(Event{Kind: EventClosed, At: time.Now()})

		if m.ctx.Err() != nil {
			return
		}
		attempt = 0
	}
}

// pump forwards frames until the client reports an error or the manager stops.
func (m *manager) pump(c Client) error {
	for {
		select {
		case <-m.ctx.Done():
			return nil

		case err := <-c.Errors():
			m.drain(c)
			return err

		case msg := <-c.Messages():
			atomic.AddInt64(&m.received, 1)
			if !m.emit(Event{Kind: EventMessage, Data: msg.Data, At: msg.ReceivedAt}) {
				return nil
			}
		}
	}
}

// drain forwards frames read before the failure so responses are not lost.
func (m *manager) drain(c Client) {
	for {
		select {
		case msg := <-c.Messages():
			atomic.AddInt64(&m.received, 1)
			if !m.emit(Event{Kind: EventMessage, Data: msg.Data, At: msg.ReceivedAt}) {
				return
			}
		default:
			return
		}
	}
}

// emit blocks until the event is consumed or the manager stops.
func (m *manager) emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}
