package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/connection"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// fakeTransport records sent frames and lets tests inject events.
type fakeTransport struct {
	mu      sync.Mutex
	sendErr error

	sent      chan []byte
	events    chan connection.Event
	connected atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(chan []byte, 100),
		events: make(chan connection.Event, 100),
	}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	f.sent <- append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) Events() <-chan connection.Event { return f.events }
func (f *fakeTransport) IsConnected() bool               { return f.connected.Load() }

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// nextFrame waits for the next sent frame and decodes it.
func (f *fakeTransport) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.sent:
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("sent invalid JSON %q: %v", data, err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sent frame")
		return nil
	}
}

// nextRequest skips heartbeats and returns the next correlated request.
func (f *fakeTransport) nextRequest(t *testing.T) map[string]any {
	t.Helper()
	for {
		frame := f.nextFrame(t)
		if _, ok := frame[protocol.FieldRequestID]; ok {
			return frame
		}
	}
}

func (f *fakeTransport) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	f.events <- connection.Event{Kind: connection.EventMessage, Data: data, At: time.Now()}
}

// replyFrame builds a successful response to a request.
func replyFrame(requestID string, result any) map[string]any {
	return map[string]any{
		"requestId": requestID,
		"room":      requestID,
		"status":    200,
		"result":    result,
	}
}

// errorFrame builds a failed response to a request.
func errorFrame(requestID, id, message string) map[string]any {
	return map[string]any{
		"requestId": requestID,
		"room":      requestID,
		"status":    401,
		"error": map[string]any{
			"id":      id,
			"message": message,
			"status":  401,
		},
	}
}

func envelope(t *testing.T, v any) *protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

// fakeRequester answers requests from a script and records them.
// Replies are computed off the caller's goroutine, so respond may block.
type fakeRequester struct {
	mu      sync.Mutex
	calls   []protocol.Payload
	respond func(p protocol.Payload) (*protocol.Envelope, error)
}

func (f *fakeRequester) Go(p protocol.Payload) (*Call, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	id := fmt.Sprintf("call-%d", len(f.calls))
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return nil, errors.New("no responder")
	}
	call := newCall(id)
	go func() { call.complete(respond(p)) }()
	return call, nil
}

func (f *fakeRequester) requests() []protocol.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Payload(nil), f.calls...)
}

func (f *fakeRequester) actions(action string) []protocol.Payload {
	var out []protocol.Payload
	for _, p := range f.requests() {
		if p["action"] == action {
			out = append(out, p)
		}
	}
	return out
}

// subscribeResult builds the reply envelope of a realtime:subscribe call.
func subscribeResult(t *testing.T, roomID, channel string) *protocol.Envelope {
	t.Helper()
	return envelope(t, map[string]any{
		"requestId": "r",
		"room":      "r",
		"status":    200,
		"result":    map[string]any{"roomId": roomID, "channel": channel},
	})
}

func okResult(t *testing.T) *protocol.Envelope {
	t.Helper()
	return envelope(t, map[string]any{"requestId": "r", "room": "r", "status": 200, "result": map[string]any{}})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
