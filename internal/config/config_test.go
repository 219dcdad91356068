package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
server:
  host: kuzzle.example.com
  port: 443
  ssl: true
auth:
  username: alice
  password: pw
session:
  request_timeout: 2s
  fail_pending_on_close: true
subscriptions:
  - index: chat
    collection: messages
    scope: in
    filters:
      equals:
        room: lobby
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "kuzzle.example.com" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "kuzzle.example.com")
	}
	if !cfg.Server.SSL {
		t.Error("Server.SSL = false, want true")
	}
	if cfg.Session.RequestTimeout != 2*time.Second {
		t.Errorf("Session.RequestTimeout = %v, want 2s", cfg.Session.RequestTimeout)
	}
	if !cfg.Session.FailPendingOnClose {
		t.Error("Session.FailPendingOnClose = false, want true")
	}
	if !cfg.Auth.HasCredentials() {
		t.Error("Auth.HasCredentials = false, want true")
	}
	if len(cfg.Subscriptions) != 1 {
		t.Fatalf("Subscriptions = %d, want 1", len(cfg.Subscriptions))
	}
	equals, _ := cfg.Subscriptions[0].Filters["equals"].(map[string]any)
	if equals["room"] != "lobby" {
		t.Errorf("Filters = %v, want equals.room=lobby", cfg.Subscriptions[0].Filters)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_KUZZLE_TOKEN", "abc.def.ghi")

	yaml := `
auth:
  token: ${TEST_KUZZLE_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "abc.def.ghi" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "abc.def.ghi")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
subscriptions:
  - index: chat
    collection: messages
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Session.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Session.RequestTimeout = %v, want default %v", cfg.Session.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Session.PingInterval != DefaultPingInterval {
		t.Errorf("Session.PingInterval = %v, want default %v", cfg.Session.PingInterval, DefaultPingInterval)
	}
	if cfg.Auth.RefreshBefore != DefaultRefreshBefore {
		t.Errorf("Auth.RefreshBefore = %v, want default %v", cfg.Auth.RefreshBefore, DefaultRefreshBefore)
	}
	if cfg.Connection.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Connection.ReconnectMaxDelay = %v, want default %v", cfg.Connection.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}

	sub := cfg.Subscriptions[0]
	if sub.Kind != SubscriptionDocument || sub.Scope != "all" || sub.Users != "all" {
		t.Errorf("subscription defaults = %+v", sub)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("KUZZLE_HOST", "env-host")
	t.Setenv("KUZZLE_PORT", "7777")
	t.Setenv("KUZZLE_SSL", "true")
	t.Setenv("KUZZLE_REQUEST_TIMEOUT", "3s")
	t.Setenv("KUZZLE_LOG_LEVEL", "debug")

	cfg := &Config{Server: ServerConfig{Host: "file-host", Path: "/ws"}}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Server.Host != "env-host" {
		t.Errorf("Server.Host = %q, want env-host", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777", cfg.Server.Port)
	}
	if !cfg.Server.SSL {
		t.Error("Server.SSL = false, want true")
	}
	if cfg.Server.Path != "/ws" {
		t.Errorf("Server.Path = %q, want untouched /ws", cfg.Server.Path)
	}
	if cfg.Session.RequestTimeout != 3*time.Second {
		t.Errorf("Session.RequestTimeout = %v, want 3s", cfg.Session.RequestTimeout)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.Logging.SlogLevel())
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("KUZZLE_SSL", "maybe")

	cfg := &Config{}
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected error for invalid KUZZLE_SSL")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{Subscriptions: []SubscriptionConfig{{Index: "i", Collection: "c"}}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: "server.host is required",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "username without password",
			mutate:  func(c *Config) { c.Auth.Username = "alice" },
			wantErr: "auth.password or auth.password_file is required with auth.username",
		},
		{
			name:    "negative refresh margin",
			mutate:  func(c *Config) { c.Auth.RefreshBefore = -time.Minute },
			wantErr: "auth.refresh_interval and auth.refresh_before must be > 0",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Session.RequestTimeout = -time.Second },
			wantErr: "session.request_timeout must be > 0",
		},
		{
			name: "base delay exceeds max",
			mutate: func(c *Config) {
				c.Connection.ReconnectBaseDelay = time.Minute
				c.Connection.ReconnectMaxDelay = time.Second
			},
			wantErr: "connection.reconnect_base_delay (1m0s) cannot exceed reconnect_max_delay (1s)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: `logging.level must be one of [debug info warn error], got "trace"`,
		},
		{
			name:    "journal without database",
			mutate:  func(c *Config) { c.Journal.Enabled = true },
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "subscription without collection",
			mutate:  func(c *Config) { c.Subscriptions[0].Collection = "" },
			wantErr: "subscriptions[0].collection is required",
		},
		{
			name:    "subscription bad scope",
			mutate:  func(c *Config) { c.Subscriptions[0].Scope = "sideways" },
			wantErr: `subscriptions[0].scope must be one of [all in out none], got "sideways"`,
		},
		{
			name:    "subscription bad kind",
			mutate:  func(c *Config) { c.Subscriptions[0].Kind = "index" },
			wantErr: `subscriptions[0].kind must be "document" or "presence", got "index"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
