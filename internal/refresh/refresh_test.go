package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rickgao/kuzzle-realtime/internal/auth"
	"github.com/rickgao/kuzzle-realtime/internal/controller"
)

// fakeAuth is both the token source and the refresher.
type fakeAuth struct {
	mu        sync.Mutex
	token     string
	next      string
	err       error
	refreshed atomic.Int32
}

func (f *fakeAuth) AuthToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeAuth) RefreshToken(_ context.Context, _ string) (*controller.LoginResult, error) {
	f.refreshed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.token = f.next
	f.mu.Unlock()
	return &controller.LoginResult{JWT: f.next, TTL: 3600000}, nil
}

func tokenExpiringAt(t *testing.T, at time.Time) string {
	t.Helper()
	claims := auth.Claims{KUID: "alice"}
	if !at.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(at)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRefresher_Check(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		token       string
		withLogin   bool
		refreshErr  error
		wantRefresh int32
		wantLogin   int32
		want        Stats
	}{
		{
			name:  "far from expiry",
			token: tokenExpiringAt(t, now.Add(time.Hour)),
		},
		{
			name:        "inside margin",
			token:       tokenExpiringAt(t, now.Add(2*time.Minute)),
			wantRefresh: 1,
			want:        Stats{Refreshes: 1},
		},
		{
			name:        "refresh error",
			token:       tokenExpiringAt(t, now.Add(time.Minute)),
			refreshErr:  errors.New("boom"),
			wantRefresh: 1,
			want:        Stats{Failures: 1},
		},
		{
			name:  "no expiry",
			token: tokenExpiringAt(t, time.Time{}),
		},
		{
			name:  "opaque token",
			token: "api-key",
		},
		{
			name:  "expired without credentials",
			token: tokenExpiringAt(t, now.Add(-time.Minute)),
		},
		{
			name:      "expired with credentials",
			token:     tokenExpiringAt(t, now.Add(-time.Minute)),
			withLogin: true,
			wantLogin: 1,
			want:      Stats{Relogins: 1},
		},
		{
			name:      "cleared token with credentials",
			token:     "",
			withLogin: true,
			wantLogin: 1,
			want:      Stats{Relogins: 1},
		},
		{
			name:  "anonymous",
			token: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAuth{token: tt.token, next: "renewed", err: tt.refreshErr}

			var logins atomic.Int32
			var login LoginFunc
			if tt.withLogin {
				login = func(context.Context) error {
					logins.Add(1)
					return nil
				}
			}

			r := New(Config{Before: 5 * time.Minute}, fa, fa, login, nil)
			r.now = func() time.Time { return now }

			r.check(context.Background())

			if got := fa.refreshed.Load(); got != tt.wantRefresh {
				t.Errorf("refreshes sent = %d, want %d", got, tt.wantRefresh)
			}
			if got := logins.Load(); got != tt.wantLogin {
				t.Errorf("logins = %d, want %d", got, tt.wantLogin)
			}
			if got := r.Stats(); got != tt.want {
				t.Errorf("Stats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRefresher_LoginFailure(t *testing.T) {
	fa := &fakeAuth{}
	r := New(DefaultConfig(), fa, fa, func(context.Context) error { return errors.New("bad credentials") }, nil)

	r.check(context.Background())

	if got := r.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestRefresher_StartStop(t *testing.T) {
	fa := &fakeAuth{
		token: tokenExpiringAt(t, time.Now().Add(time.Minute)),
		next:  tokenExpiringAt(t, time.Now().Add(time.Hour)),
	}

	r := New(Config{Interval: 20 * time.Millisecond, Before: 5 * time.Minute}, fa, fa, nil, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// the renewed token is outside the margin, so only one refresh happens
	if got := fa.refreshed.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{}, &fakeAuth{}, &fakeAuth{}, nil, nil)

	if r.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want %+v", r.cfg, DefaultConfig())
	}
}
