// Package controller provides typed wrappers over Kuzzle API actions.
//
// Controllers only depend on Requester, so they work on any session engine.
package controller

import (
	"context"
	"fmt"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Requester sends a request and waits for its reply.
type Requester interface {
	Request(ctx context.Context, payload protocol.Payload) (*protocol.Envelope, error)
}

// TokenRequester is a Requester that also holds the bearer token.
type TokenRequester interface {
	Requester
	SetAuthToken(token string)
}

// call sends payload and decodes the result into out (nil skips decoding).
func call(ctx context.Context, r Requester, payload protocol.Payload, out any) error {
	env, err := r.Request(ctx, payload)
	if err != nil {
		return fmt.Errorf("%s:%s: %w", payload["controller"], payload["action"], err)
	}
	if out == nil {
		return nil
	}
	if err := env.DecodeResult(out); err != nil {
		return fmt.Errorf("%s:%s: decode result: %w", payload["controller"], payload["action"], err)
	}
	return nil
}

// boolCall sends payload and returns its boolean result.
func boolCall(ctx context.Context, r Requester, payload protocol.Payload) (bool, error) {
	var ok bool
	if err := call(ctx, r, payload, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
