// Package auth handles Kuzzle credentials and inspects the JWTs the server issues.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StrategyLocal is the username/password login strategy.
const StrategyLocal = "local"

var ErrMalformedToken = errors.New("malformed token")

// Credentials holds what auth:login needs for a strategy.
type Credentials struct {
	Strategy string
	Username string
	Password string
}

// LoadCredentials validates local credentials. passwordFile, when set, overrides password.
func LoadCredentials(username, password, passwordFile string) (*Credentials, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		password = strings.TrimSpace(string(data))
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	return &Credentials{
		Strategy: StrategyLocal,
		Username: username,
		Password: password,
	}, nil
}

// Body returns the auth:login request body for these credentials.
func (c *Credentials) Body() map[string]any {
	return map[string]any{
		"username": c.Username,
		"password": c.Password,
	}
}

// LoadToken reads a previously issued token from a file.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// Claims are the claims Kuzzle puts in the tokens it issues.
type Claims struct {
	KUID string `json:"_id"`
	jwt.RegisteredClaims
}

// TokenInfo describes a token without verifying its signature.
type TokenInfo struct {
	KUID      string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero for tokens that never expire
}

// Expired reports whether the token is past its expiry at now.
func (i *TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// TTL returns how long the token remains valid, 0 once expired.
// Tokens without expiry report a negative TTL.
func (i *TokenInfo) TTL(now time.Time) time.Duration {
	if i.ExpiresAt.IsZero() {
		return -1
	}
	if ttl := i.ExpiresAt.Sub(now); ttl > 0 {
		return ttl
	}
	return 0
}

// ParseToken decodes a token's claims. The signature is not checked; only the
// server holds the signing secret.
func ParseToken(token string) (*TokenInfo, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	info := &TokenInfo{KUID: claims.KUID}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
