package refresh

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/auth"
	"github.com/rickgao/kuzzle-realtime/internal/controller"
)

// TokenSource exposes the session's current token. *session.Engine satisfies it.
type TokenSource interface {
	AuthToken() string
}

// TokenRefresher renews a token. *controller.Auth satisfies it.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, expiresIn string) (*controller.LoginResult, error)
}

// LoginFunc obtains a fresh token from scratch, e.g. with stored credentials.
type LoginFunc func(ctx context.Context) error

// Config holds refresher configuration.
type Config struct {
	Interval  time.Duration // How often the token is inspected (default: 1m)
	Before    time.Duration // Refresh when less than this is left (default: 5m)
	Timeout   time.Duration // Per-request timeout (default: 10s)
	ExpiresIn string        // Lifetime requested for refreshed tokens ("" = server default)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Before:   5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats counts refresher outcomes.
type Stats struct {
	Refreshes int64
	Relogins  int64
	Failures  int64
}

// Refresher periodically renews the session token.
type Refresher struct {
	cfg       Config
	tokens    TokenSource
	refresher TokenRefresher
	login     LoginFunc // nil when no credentials are configured
	logger    *slog.Logger
	now       func() time.Time

	refreshes atomic.Int64
	relogins  atomic.Int64
	failures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Refresher. login may be nil.
func New(cfg Config, tokens TokenSource, refresher TokenRefresher, login LoginFunc, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Before <= 0 {
		cfg.Before = def.Before
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Refresher{
		cfg:       cfg,
		tokens:    tokens,
		refresher: refresher,
		login:     login,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins the check loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("token refresher started",
		"interval", r.cfg.Interval,
		"before", r.cfg.Before,
	)
	return nil
}

// Stop waits for an in-flight check to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("token refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) Stats() Stats {
	return Stats{
		Refreshes: r.refreshes.Load(),
		Relogins:  r.relogins.Load(),
		Failures:  r.failures.Load(),
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.check(r.ctx)
		}
	}
}

// check renews the token if it is missing, expired or close to expiry.
func (r *Refresher) check(ctx context.Context) {
	token := r.tokens.AuthToken()
	if token == "" {
		if r.login != nil {
			r.relogin(ctx, "no token")
		}
		return
	}

	info, err := auth.ParseToken(token)
	if err != nil {
		// API keys and other opaque tokens are left alone.
		r.logger.Debug("token not inspectable", "error", err)
		return
	}
	if info.ExpiresAt.IsZero() {
		return
	}

	now := r.now()
	if info.Expired(now) {
		if r.login != nil {
			r.relogin(ctx, "token expired")
		} else {
			r.logger.Warn("token expired and no credentials to log in again", "kuid", info.KUID)
		}
		return
	}
	if info.TTL(now) > r.cfg.Before {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	res, err := r.refresher.RefreshToken(reqCtx, r.cfg.ExpiresIn)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("token refresh failed", "kuid", info.KUID, "error", err)
		return
	}
	r.refreshes.Add(1)
	r.logger.Info("token refreshed", "kuid", info.KUID, "ttl", time.Duration(res.TTL)*time.Millisecond)
}

func (r *Refresher) relogin(ctx context.Context, reason string) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := r.login(reqCtx); err != nil {
		r.failures.Add(1)
		r.logger.Warn("login failed", "reason", reason, "error", err)
		return
	}
	r.relogins.Add(1)
	r.logger.Info("logged in again", "reason", reason)
}
