package connection

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testManagerConfig(url string) ManagerConfig {
	return ManagerConfig{
		URL:               url,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectBaseWait: 10 * time.Millisecond,
		ReconnectMaxWait:  50 * time.Millisecond,
		EventBufferSize:   100,
	}
}

// nextEvent returns the next event of the wanted kind, skipping others.
func nextEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()

	if cfg.ReconnectBaseWait != time.Second {
		t.Errorf("ReconnectBaseWait = %v, want 1s", cfg.ReconnectBaseWait)
	}
	if cfg.ReconnectMaxWait != 60*time.Second {
		t.Errorf("ReconnectMaxWait = %v, want 60s", cfg.ReconnectMaxWait)
	}
	if cfg.EventBufferSize != 1000 {
		t.Errorf("EventBufferSize = %d, want 1000", cfg.EventBufferSize)
	}
}

func TestManager_OpenSendReceive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)

	if err := m.Send([]byte("early")); err != ErrNotConnected {
		t.Errorf("Send before connect = %v, want ErrNotConnected", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	if err := m.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	nextEvent(t, m.Events(), EventOpened)
	if !m.IsConnected() {
		t.Error("expected IsConnected after open")
	}

	if err := m.Send([]byte(`{"p":1}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ev := nextEvent(t, m.Events(), EventMessage)
	if string(ev.Data) != `{"p":1}` {
		t.Errorf("message = %q, want echo", ev.Data)
	}

	if stats := m.Stats(); stats.MessagesReceived != 1 || !stats.Connected {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestManager_ReconnectsAfterServerClose(t *testing.T) {
	var connections atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if connections.Add(1) == 1 {
			// Drop the first connection.
			return
		}
		readUntilClosed(conn)
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	events := m.Events()
	nextEvent(t, events, EventOpened)
	nextEvent(t, events, EventClosed)
	nextEvent(t, events, EventOpened)

	if stats := m.Stats(); stats.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", stats.Reconnects)
	}
}

func TestManager_ConnectFailureEmitsError(t *testing.T) {
	m := NewManager(testManagerConfig("ws://127.0.0.1:1"), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	ev := nextEvent(t, m.Events(), EventErrored)
	if ev.Err == nil {
		t.Error("errored event without error")
	}
	if m.IsConnected() {
		t.Error("IsConnected = true with no server")
	}
}

func TestManager_StopClosesEvents(t *testing.T) {
	server := mockWSServer(t, readUntilClosed)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	nextEvent(t, m.Events(), EventOpened)

	// Drain so the loop is never stuck emitting.
	closed := make(chan struct{})
	go func() {
		for range m.Events() {
		}
		close(closed)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after Stop")
	}

	if m.IsConnected() {
		t.Error("IsConnected = true after Stop")
	}
}
