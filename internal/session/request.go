package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kuzzle-realtime/internal/metrics"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Sender writes one frame to the transport.
type Sender interface {
	Send(data []byte) error
}

// Call is a request awaiting its reply.
type Call struct {
	ID string

	done   chan struct{}
	once   sync.Once
	env    *protocol.Envelope
	err    error
	timer  *time.Timer
	sentAt time.Time
}

func newCall(id string) *Call {
	return &Call{
		ID:     id,
		done:   make(chan struct{}),
		sentAt: time.Now(),
	}
}

// Done is closed once the call has a reply, timed out or was aborted.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx is done.
// A ctx cancellation does not withdraw the request; it still ends on reply or timeout.
func (c *Call) Wait(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case <-c.done:
		return c.env, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the outcome without blocking. ok is false while the call is pending.
func (c *Call) Poll() (env *protocol.Envelope, err error, ok bool) {
	select {
	case <-c.done:
		return c.env, c.err, true
	default:
		return nil, nil, false
	}
}

func (c *Call) complete(env *protocol.Envelope, err error) bool {
	completed := false
	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.env = env
		c.err = err
		close(c.done)
		completed = true
	})
	return completed
}

// Engine correlates outgoing requests with their replies.
// It owns the pending calls and the ambient metadata attached to every send.
type Engine struct {
	transport  Sender
	timeout    time.Duration
	instanceID string
	logger     *slog.Logger

	mu        sync.Mutex
	pending   map[string]*Call
	authToken string
	volatile  map[string]any
}

// NewEngine creates a correlation engine writing to transport.
func NewEngine(transport Sender, timeout time.Duration, instanceID, authToken string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Engine{
		transport:  transport,
		timeout:    timeout,
		instanceID: instanceID,
		logger:     logger,
		pending:    make(map[string]*Call),
		authToken:  authToken,
		volatile:   map[string]any{},
	}
}

// Request sends payload and waits for its reply.
// A reply carrying an error returns that *protocol.Error.
func (e *Engine) Request(ctx context.Context, payload protocol.Payload) (*protocol.Envelope, error) {
	call, err := e.Go(payload)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Go sends payload and returns a handle on its reply.
// The request fails with ErrRequestTimeout if no reply arrives in time.
func (e *Engine) Go(payload protocol.Payload) (*Call, error) {
	id := uuid.NewString()
	call := newCall(id)

	e.mu.Lock()
	msg := e.enrichLocked(payload, id)
	e.pending[id] = call
	call.timer = time.AfterFunc(e.timeout, func() { e.expire(id) })
	e.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		e.abort(id, err)
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if err := e.transport.Send(data); err != nil {
		e.abort(id, err)
		metrics.RecordRequest(metrics.OutcomeSendError, time.Since(call.sentAt))
		return nil, fmt.Errorf("send request: %w", err)
	}

	e.logger.Debug("request sent",
		"request_id", id,
		"controller", payload["controller"],
		"action", payload["action"],
	)

	return call, nil
}

// enrichLocked copies payload and adds the request ID, volatile data and token.
// Must be called with e.mu held.
func (e *Engine) enrichLocked(payload protocol.Payload, id string) protocol.Payload {
	msg := payload.Clone()
	msg[protocol.FieldRequestID] = id

	volatile := make(map[string]any, len(e.volatile)+1)
	maps.Copy(volatile, e.volatile)
	if e.instanceID != "" {
		volatile[protocol.VolatileInstanceKey] = e.instanceID
	}
	msg[protocol.FieldVolatile] = volatile

	if e.authToken != "" {
		msg[protocol.FieldJWT] = e.authToken
	}
	return msg
}

// HandleMessage claims direct replies to pending requests.
func (e *Engine) HandleMessage(env *protocol.Envelope) bool {
	if !env.IsReply() {
		return false
	}

	e.mu.Lock()
	call, ok := e.pending[env.RequestID]
	if ok {
		delete(e.pending, env.RequestID)
	}
	e.mu.Unlock()

	if !ok {
		return false
	}

	elapsed := time.Since(call.sentAt)
	if env.Error != nil {
		call.complete(nil, env.Error)
		metrics.RecordRequest(metrics.OutcomeError, elapsed)
		e.logger.Debug("request failed",
			"request_id", env.RequestID,
			"error_id", env.Error.ID,
			"status", env.Error.Status,
		)
		return true
	}

	call.complete(env, nil)
	metrics.RecordRequest(metrics.OutcomeOK, elapsed)
	return true
}

// expire fails a call whose reply did not arrive in time.
func (e *Engine) expire(id string) {
	e.mu.Lock()
	call, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	if call.complete(nil, ErrRequestTimeout) {
		metrics.RecordRequest(metrics.OutcomeTimeout, time.Since(call.sentAt))
		e.logger.Warn("request timed out", "request_id", id, "timeout", e.timeout)
	}
}

// abort removes a call that never reached the transport.
func (e *Engine) abort(id string, err error) {
	e.mu.Lock()
	call, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()

	if ok {
		call.complete(nil, err)
	}
}

// FailPending fails every outstanding call with err.
func (e *Engine) FailPending(err error) int {
	e.mu.Lock()
	calls := e.pending
	e.pending = make(map[string]*Call)
	e.mu.Unlock()

	for _, call := range calls {
		if call.complete(nil, err) {
			metrics.RecordRequest(metrics.OutcomeAborted, time.Since(call.sentAt))
		}
	}
	return len(calls)
}

// Emit writes v to the transport without correlation (heartbeats).
func (e *Engine) Emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return e.transport.Send(data)
}

// SetAuthToken replaces the bearer token for future sends. "" clears it.
func (e *Engine) SetAuthToken(token string) {
	e.mu.Lock()
	e.authToken = token
	e.mu.Unlock()
}

// AuthToken returns the current bearer token ("" when unset).
func (e *Engine) AuthToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authToken
}

// SetVolatileData replaces the volatile bag attached to future sends.
func (e *Engine) SetVolatileData(data map[string]any) {
	volatile := make(map[string]any, len(data))
	maps.Copy(volatile, data)

	e.mu.Lock()
	e.volatile = volatile
	e.mu.Unlock()
}

// VolatileData returns a copy of the current volatile bag.
func (e *Engine) VolatileData() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.volatile)
}

// Pending returns the number of outstanding requests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// InstanceID returns the session identity attached to every request.
func (e *Engine) InstanceID() string {
	return e.instanceID
}
