package session

import (
	"log/slog"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Handler inspects an inbound envelope and reports whether it consumed it.
type Handler interface {
	HandleMessage(env *protocol.Envelope) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(env *protocol.Envelope) bool

func (f HandlerFunc) HandleMessage(env *protocol.Envelope) bool { return f(env) }

// Dispatcher offers each inbound message to its handlers in order and stops
// at the first one that claims it.
type Dispatcher struct {
	handlers []Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: handlers, logger: logger}
}

// Dispatch decodes one frame and routes it. Undecodable frames are logged and dropped.
func (d *Dispatcher) Dispatch(data []byte) bool {
	env, err := protocol.Decode(data)
	if err != nil {
		d.logger.Warn("dropping undecodable frame", "error", err, "size", len(data))
		return false
	}
	return d.DispatchEnvelope(env)
}

// DispatchEnvelope routes an already decoded envelope.
func (d *Dispatcher) DispatchEnvelope(env *protocol.Envelope) bool {
	for _, h := range d.handlers {
		if h.HandleMessage(env) {
			return true
		}
	}

	d.logger.Debug("unhandled message",
		"request_id", env.RequestID,
		"room", env.Room,
		"type", env.Type,
	)
	return false
}
