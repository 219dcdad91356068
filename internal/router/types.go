package router

import (
	"encoding/json"
	"time"
)

// RouterConfig sizes the journal buffer.
type RouterConfig struct {
	BufferSize    int // initial capacity
	MaxBufferSize int // ceiling; 0 means unbounded
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BufferSize:    1000,
		MaxBufferSize: 100000,
	}
}

// Record is one notification as stored in the journal.
type Record struct {
	ReceivedAt  time.Time
	NotifiedAt  time.Time // server timestamp; zero if the server sent none
	Index       string
	Collection  string
	Kind        string // document, ephemeral, presence
	Event       string // write, delete, publish; empty for presence
	Scope       string // in or out
	DocumentID  string
	UsersInRoom int
	Payload     json.RawMessage
}

// documentBody is the payload stored for document and ephemeral notifications.
type documentBody struct {
	Source        json.RawMessage `json:"_source,omitempty"`
	UpdatedFields []string        `json:"_updatedFields,omitempty"`
}

// presenceBody is the payload stored for presence notifications.
type presenceBody struct {
	Volatile map[string]any `json:"volatile,omitempty"`
}
