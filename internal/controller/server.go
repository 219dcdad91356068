package controller

import (
	"context"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Server wraps the server controller.
type Server struct {
	r Requester
}

func NewServer(r Requester) *Server {
	return &Server{r: r}
}

// Now returns the server clock in epoch milliseconds.
func (s *Server) Now(ctx context.Context) (int64, error) {
	var res struct {
		Now int64 `json:"now"`
	}
	if err := call(ctx, s.r, protocol.Payload{"controller": "server", "action": "now"}, &res); err != nil {
		return 0, err
	}
	return res.Now, nil
}
