package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for a session client.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Auth          AuthConfig           `yaml:"auth"`
	Session       SessionConfig        `yaml:"session"`
	Connection    ConnectionConfig     `yaml:"connection"`
	Logging       LoggingConfig        `yaml:"logging"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Database      DatabaseConfig       `yaml:"database"`
	Journal       JournalConfig        `yaml:"journal"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// ServerConfig locates the Kuzzle server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	SSL  bool   `yaml:"ssl"`
	Path string `yaml:"path"`
}

// AuthConfig holds either a ready token or local credentials to log in with.
type AuthConfig struct {
	Token        string `yaml:"token"`
	TokenFile    string `yaml:"token_file"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	ExpiresIn    string `yaml:"expires_in"` // e.g. "2h"

	RefreshInterval time.Duration `yaml:"refresh_interval"` // how often token expiry is checked
	RefreshBefore   time.Duration `yaml:"refresh_before"`   // refresh when less than this is left
}

// HasCredentials reports whether a local login is configured.
func (a AuthConfig) HasCredentials() bool {
	return a.Username != ""
}

// SessionConfig holds request correlation and keepalive settings.
type SessionConfig struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	FailPendingOnClose bool          `yaml:"fail_pending_on_close"`
}

// ConnectionConfig holds WebSocket transport settings.
type ConnectionConfig struct {
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	EventBufferSize    int           `yaml:"event_buffer_size"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SlogLevel maps Level to a slog level. Unknown values mean info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// DatabaseConfig holds the PostgreSQL connection for the notification journal.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// JournalConfig holds notification journal writer settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// Subscription kinds.
const (
	SubscriptionDocument = "document"
	SubscriptionPresence = "presence"
)

// SubscriptionConfig describes one subscription opened at startup.
type SubscriptionConfig struct {
	Kind       string         `yaml:"kind"` // document (default) or presence
	Index      string         `yaml:"index"`
	Collection string         `yaml:"collection"`
	Scope      string         `yaml:"scope"` // document: all, in, out, none
	Users      string         `yaml:"users"` // presence: all, in, out, none
	Filters    map[string]any `yaml:"filters"`
	IgnoreSelf bool           `yaml:"ignore_self"`
}
