package controller

import (
	"context"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Collections wraps the collection controller.
type Collections struct {
	r Requester
}

func NewCollections(r Requester) *Collections {
	return &Collections{r: r}
}

func (c *Collections) Exists(ctx context.Context, index, collection string) (bool, error) {
	return boolCall(ctx, c.r, protocol.Payload{
		"controller": "collection",
		"action":     "exists",
		"index":      index,
		"collection": collection,
	})
}

// Create creates a collection. mapping may be nil.
func (c *Collections) Create(ctx context.Context, index, collection string, mapping map[string]any) error {
	payload := protocol.Payload{
		"controller": "collection",
		"action":     "create",
		"index":      index,
		"collection": collection,
	}
	if mapping != nil {
		payload["body"] = mapping
	}
	return call(ctx, c.r, payload, nil)
}
