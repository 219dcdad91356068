package connection

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("already started")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// EventKind identifies a transport lifecycle event.
type EventKind string

const (
	EventOpened  EventKind = "opened"
	EventClosed  EventKind = "closed"
	EventErrored EventKind = "errored"
	EventMessage EventKind = "message"
)

// Event is a lifecycle notification or an inbound frame from the transport.
type Event struct {
	Kind EventKind
	Data []byte // EventMessage only
	Err  error  // EventErrored only
	At   time.Time
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // e.g. ws://localhost:7512
	Header           http.Header   // Extra handshake headers (nil = none)
	HandshakeTimeout time.Duration // Dial handshake deadline
	ReadTimeout      time.Duration // Max time without inbound traffic before the connection is stale (0 = never)
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the reconnecting transport.
type ManagerConfig struct {
	URL               string
	Header            http.Header
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
	EventBufferSize   int           // Buffer size for the output event channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		EventBufferSize:   1000,
	}
}

// BuildURL returns the WebSocket URL for a server.
func BuildURL(host string, port int, ssl bool, path string) string {
	scheme := "ws"
	if ssl {
		scheme = "wss"
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path)
}
