package router

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()

	if cfg.BufferSize != 1000 {
		t.Errorf("BufferSize = %d, want 1000", cfg.BufferSize)
	}
	if cfg.MaxBufferSize != 100000 {
		t.Errorf("MaxBufferSize = %d, want 100000", cfg.MaxBufferSize)
	}
}

func newTestRouter(cfg RouterConfig) *Router {
	r := NewRouter(cfg, slog.Default())
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	return r
}

func TestRouter_DocumentHandler(t *testing.T) {
	r := newTestRouter(DefaultRouterConfig())
	handle := r.DocumentHandler("chat", "messages")

	handle(protocol.DocumentNotification{
		Type:      protocol.KindDocument,
		Event:     "write",
		Scope:     "in",
		Timestamp: 1700000000123,
		Payload: protocol.DocumentPayload{
			ID:     "doc-1",
			Source: json.RawMessage(`{"text":"hi"}`),
		},
	})

	rec, ok := r.Buffer().TryReceive()
	if !ok {
		t.Fatal("expected a record in the buffer")
	}

	if rec.Index != "chat" || rec.Collection != "messages" {
		t.Errorf("target = %s/%s, want chat/messages", rec.Index, rec.Collection)
	}
	if rec.Kind != "document" {
		t.Errorf("Kind = %q, want document", rec.Kind)
	}
	if rec.Event != "write" || rec.Scope != "in" {
		t.Errorf("Event/Scope = %q/%q, want write/in", rec.Event, rec.Scope)
	}
	if rec.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", rec.DocumentID)
	}
	if !rec.NotifiedAt.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("NotifiedAt = %v, want %v", rec.NotifiedAt, time.UnixMilli(1700000000123))
	}
	if !rec.ReceivedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ReceivedAt = %v", rec.ReceivedAt)
	}
	if string(rec.Payload) != `{"_source":{"text":"hi"}}` {
		t.Errorf("Payload = %s", rec.Payload)
	}
}

func TestRouter_EphemeralNotification(t *testing.T) {
	r := newTestRouter(DefaultRouterConfig())

	r.DocumentHandler("chat", "messages")(protocol.DocumentNotification{
		Type:    protocol.KindEphemeral,
		Event:   "publish",
		Scope:   "in",
		Payload: protocol.DocumentPayload{Source: json.RawMessage(`{"typing":true}`)},
	})

	rec, ok := r.Buffer().TryReceive()
	if !ok {
		t.Fatal("expected a record in the buffer")
	}
	if rec.Kind != "ephemeral" {
		t.Errorf("Kind = %q, want ephemeral", rec.Kind)
	}
	if rec.DocumentID != "" {
		t.Errorf("DocumentID = %q, want empty", rec.DocumentID)
	}
	if !rec.NotifiedAt.IsZero() {
		t.Errorf("NotifiedAt = %v, want zero without server timestamp", rec.NotifiedAt)
	}
}

func TestRouter_PresenceHandler(t *testing.T) {
	r := newTestRouter(DefaultRouterConfig())

	r.PresenceHandler("chat", "messages")(protocol.PresenceNotification{
		CurrentUsersInRoom: 3,
		Scope:              "out",
		Timestamp:          1700000000000,
		Volatile:           map[string]any{"nick": "bob"},
	})

	rec, ok := r.Buffer().TryReceive()
	if !ok {
		t.Fatal("expected a record in the buffer")
	}
	if rec.Kind != "presence" {
		t.Errorf("Kind = %q, want presence", rec.Kind)
	}
	if rec.UsersInRoom != 3 {
		t.Errorf("UsersInRoom = %d, want 3", rec.UsersInRoom)
	}
	if rec.Scope != "out" {
		t.Errorf("Scope = %q, want out", rec.Scope)
	}
	if string(rec.Payload) != `{"volatile":{"nick":"bob"}}` {
		t.Errorf("Payload = %s", rec.Payload)
	}
}

func TestRouter_DropsWhenFull(t *testing.T) {
	r := newTestRouter(RouterConfig{BufferSize: 2, MaxBufferSize: 2})
	handle := r.DocumentHandler("i", "c")

	for i := 0; i < 5; i++ {
		handle(protocol.DocumentNotification{Type: protocol.KindDocument, Event: "write", Scope: "in"})
	}

	stats := r.Stats()
	if stats.Routed != 2 {
		t.Errorf("Routed = %d, want 2", stats.Routed)
	}
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", stats.Dropped)
	}
	if stats.Buffer.Count != 2 {
		t.Errorf("Buffer.Count = %d, want 2", stats.Buffer.Count)
	}
}

func TestRouter_Close(t *testing.T) {
	r := newTestRouter(DefaultRouterConfig())
	handle := r.DocumentHandler("i", "c")

	handle(protocol.DocumentNotification{Type: protocol.KindDocument})
	r.Close()
	handle(protocol.DocumentNotification{Type: protocol.KindDocument})

	if _, ok := r.Buffer().Receive(); !ok {
		t.Error("queued record lost after Close")
	}
	if _, ok := r.Buffer().Receive(); ok {
		t.Error("record accepted after Close")
	}
	if got := r.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestNewRouter_ZeroBufferSize(t *testing.T) {
	r := NewRouter(RouterConfig{}, nil)
	if got := r.Buffer().Cap(); got != DefaultRouterConfig().BufferSize {
		t.Errorf("Cap() = %d, want %d", got, DefaultRouterConfig().BufferSize)
	}
}
