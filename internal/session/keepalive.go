package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Emitter writes an uncorrelated frame.
type Emitter interface {
	Emit(v any) error
}

// Keepalive pings the server on an interval and answers server pings.
type Keepalive struct {
	out    Emitter
	logger *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewKeepalive creates a stopped keepalive writing through out.
func NewKeepalive(out Emitter, logger *slog.Logger) *Keepalive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keepalive{out: out, logger: logger}
}

// Start begins pinging every interval. A running ticker is replaced, never doubled.
func (k *Keepalive) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	k.stop, k.done = stop, done

	go k.loop(interval, stop, done)
}

// Stop halts pinging. Safe to call when not running.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
}

func (k *Keepalive) stopLocked() {
	if k.stop == nil {
		return
	}
	close(k.stop)
	<-k.done
	k.stop, k.done = nil, nil
}

// Running reports whether the ping ticker is active.
func (k *Keepalive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stop != nil
}

func (k *Keepalive) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := k.out.Emit(protocol.Heartbeat{P: protocol.PingFrame}); err != nil {
				k.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

// HandleMessage claims heartbeat frames and answers pings with a pong.
func (k *Keepalive) HandleMessage(env *protocol.Envelope) bool {
	p, ok := env.Heartbeat()
	if !ok {
		return false
	}

	if p == protocol.PingFrame {
		if err := k.out.Emit(protocol.Heartbeat{P: protocol.PongFrame}); err != nil {
			k.logger.Debug("pong failed", "error", err)
		}
	}
	return true
}
