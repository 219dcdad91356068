package session

import (
	"log/slog"

	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// TokenHolder stores the bearer token attached to outgoing requests.
type TokenHolder interface {
	SetAuthToken(token string)
	AuthToken() string
}

// AuthCleanup drops the bearer token when the server reports it invalid or expired.
// It never claims a message, so the reply still reaches its caller.
type AuthCleanup struct {
	tokens TokenHolder
	logger *slog.Logger
}

func NewAuthCleanup(tokens TokenHolder, logger *slog.Logger) *AuthCleanup {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthCleanup{tokens: tokens, logger: logger}
}

func (a *AuthCleanup) HandleMessage(env *protocol.Envelope) bool {
	invalid := env.Error != nil && env.Error.ID == protocol.ErrIDTokenInvalid
	expired := env.Type == protocol.TypeTokenExpired

	if (invalid || expired) && a.tokens.AuthToken() != "" {
		a.tokens.SetAuthToken("")
		a.logger.Info("auth token cleared", "expired", expired)
	}
	return false
}
