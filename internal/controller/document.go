package controller

import (
	"context"
	"encoding/json"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Document is a stored document as returned by document actions.
type Document struct {
	ID      string          `json:"_id"`
	Source  json.RawMessage `json:"_source"`
	Version int             `json:"_version,omitempty"`
}

// Documents wraps the document controller.
type Documents struct {
	r Requester
}

func NewDocuments(r Requester) *Documents {
	return &Documents{r: r}
}

// Create stores body as a new document. An empty id lets the server generate one.
func (d *Documents) Create(ctx context.Context, index, collection string, body any, id string) (*Document, error) {
	payload := protocol.Payload{
		"controller": "document",
		"action":     "create",
		"index":      index,
		"collection": collection,
		"body":       body,
	}
	if id != "" {
		payload["_id"] = id
	}

	var doc Document
	if err := call(ctx, d.r, payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Get fetches a document by id.
func (d *Documents) Get(ctx context.Context, index, collection, id string) (*Document, error) {
	var doc Document
	err := call(ctx, d.r, protocol.Payload{
		"controller": "document",
		"action":     "get",
		"index":      index,
		"collection": collection,
		"_id":        id,
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
