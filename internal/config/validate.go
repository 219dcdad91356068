package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	validScopes    = []string{"all", "in", "out", "none"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Auth.Username != "" && c.Auth.Password == "" && c.Auth.PasswordFile == "" {
		return errors.New("auth.password or auth.password_file is required with auth.username")
	}
	if c.Auth.RefreshInterval <= 0 || c.Auth.RefreshBefore <= 0 {
		return errors.New("auth.refresh_interval and auth.refresh_before must be > 0")
	}

	if c.Session.RequestTimeout <= 0 {
		return errors.New("session.request_timeout must be > 0")
	}
	if c.Session.PingInterval <= 0 {
		return errors.New("session.ping_interval must be > 0")
	}

	if c.Connection.ReconnectBaseDelay > c.Connection.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Connection.ReconnectBaseDelay, c.Connection.ReconnectMaxDelay)
	}
	if c.Connection.EventBufferSize < 1 {
		return errors.New("connection.event_buffer_size must be >= 1")
	}

	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %v, got %q", validLogLevels, c.Logging.Level)
	}

	if c.Journal.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	for i, s := range c.Subscriptions {
		if err := s.validate(fmt.Sprintf("subscriptions[%d]", i)); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (s *SubscriptionConfig) validate(prefix string) error {
	if s.Index == "" {
		return fmt.Errorf("%s.index is required", prefix)
	}
	if s.Collection == "" {
		return fmt.Errorf("%s.collection is required", prefix)
	}

	switch s.Kind {
	case SubscriptionDocument:
		if !slices.Contains(validScopes, s.Scope) {
			return fmt.Errorf("%s.scope must be one of %v, got %q", prefix, validScopes, s.Scope)
		}
	case SubscriptionPresence:
		if !slices.Contains(validScopes, s.Users) {
			return fmt.Errorf("%s.users must be one of %v, got %q", prefix, validScopes, s.Users)
		}
	default:
		return fmt.Errorf("%s.kind must be %q or %q, got %q", prefix, SubscriptionDocument, SubscriptionPresence, s.Kind)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
