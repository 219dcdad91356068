package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/auth"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// LoginResult is the result of auth:login.
type LoginResult struct {
	KUID      string `json:"_id"`
	JWT       string `json:"jwt"`
	ExpiresAt int64  `json:"expiresAt"` // epoch ms
	TTL       int64  `json:"ttl"`       // ms
}

// CurrentUser is the result of auth:getCurrentUser.
type CurrentUser struct {
	ID         string          `json:"_id"`
	Strategies []string        `json:"strategies"`
	Source     json.RawMessage `json:"_source"`
}

// Auth wraps the auth controller. Login and logout keep the session token in sync.
type Auth struct {
	r      TokenRequester
	logger *slog.Logger
}

func NewAuth(r TokenRequester, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{r: r, logger: logger}
}

// Login authenticates with strategy and stores the returned token for future requests.
// expiresIn uses the server's duration format ("2h"); empty keeps the server default.
func (a *Auth) Login(ctx context.Context, strategy string, credentials map[string]any, expiresIn string) (*LoginResult, error) {
	payload := protocol.Payload{
		"controller": "auth",
		"action":     "login",
		"strategy":   strategy,
		"body":       credentials,
	}
	if expiresIn != "" {
		payload["expiresIn"] = expiresIn
	}

	var res LoginResult
	if err := call(ctx, a.r, payload, &res); err != nil {
		return nil, err
	}

	if res.JWT != "" {
		a.r.SetAuthToken(res.JWT)
	}

	if info, err := auth.ParseToken(res.JWT); err == nil {
		a.logger.Info("logged in", "kuid", info.KUID, "ttl", info.TTL(time.Now()))
	} else {
		a.logger.Info("logged in", "kuid", res.KUID)
	}

	return &res, nil
}

// LoginWith logs in with local credentials.
func (a *Auth) LoginWith(ctx context.Context, creds *auth.Credentials, expiresIn string) (*LoginResult, error) {
	return a.Login(ctx, creds.Strategy, creds.Body(), expiresIn)
}

// Logout revokes the current token and clears it. global revokes every session of the user.
func (a *Auth) Logout(ctx context.Context, global bool) error {
	payload := protocol.Payload{
		"controller": "auth",
		"action":     "logout",
		"global":     global,
	}
	if err := call(ctx, a.r, payload, nil); err != nil {
		return err
	}

	a.r.SetAuthToken("")
	return nil
}

// GetCurrentUser returns the user the current token belongs to.
func (a *Auth) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var user CurrentUser
	if err := call(ctx, a.r, protocol.Payload{"controller": "auth", "action": "getCurrentUser"}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshToken exchanges the current token for a new one and stores it.
// The old token stays valid for a short grace period on the server.
func (a *Auth) RefreshToken(ctx context.Context, expiresIn string) (*LoginResult, error) {
	payload := protocol.Payload{
		"controller": "auth",
		"action":     "refreshToken",
	}
	if expiresIn != "" {
		payload["expiresIn"] = expiresIn
	}

	var res LoginResult
	if err := call(ctx, a.r, payload, &res); err != nil {
		return nil, err
	}
	if res.JWT != "" {
		a.r.SetAuthToken(res.JWT)
	}
	return &res, nil
}
