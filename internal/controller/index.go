package controller

import (
	"context"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Indexes wraps the index controller.
type Indexes struct {
	r Requester
}

func NewIndexes(r Requester) *Indexes {
	return &Indexes{r: r}
}

func (i *Indexes) Exists(ctx context.Context, index string) (bool, error) {
	return boolCall(ctx, i.r, protocol.Payload{
		"controller": "index",
		"action":     "exists",
		"index":      index,
	})
}

func (i *Indexes) Create(ctx context.Context, index string) error {
	return call(ctx, i.r, protocol.Payload{
		"controller": "index",
		"action":     "create",
		"index":      index,
	}, nil)
}
