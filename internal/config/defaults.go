package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost               = "localhost"
	DefaultPort               = 7512
	DefaultRequestTimeout     = 5 * time.Second
	DefaultPingInterval       = 5 * time.Second
	DefaultRefreshInterval    = 1 * time.Minute
	DefaultRefreshBefore      = 5 * time.Minute
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultEventBufferSize    = 1000
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	// Auth defaults
	if c.Auth.RefreshInterval == 0 {
		c.Auth.RefreshInterval = DefaultRefreshInterval
	}
	if c.Auth.RefreshBefore == 0 {
		c.Auth.RefreshBefore = DefaultRefreshBefore
	}

	// Session defaults
	if c.Session.RequestTimeout == 0 {
		c.Session.RequestTimeout = DefaultRequestTimeout
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = DefaultPingInterval
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.ReadTimeout == 0 {
		c.Connection.ReadTimeout = DefaultReadTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.EventBufferSize == 0 {
		c.Connection.EventBufferSize = DefaultEventBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Subscription defaults
	for i := range c.Subscriptions {
		s := &c.Subscriptions[i]
		if s.Kind == "" {
			s.Kind = SubscriptionDocument
		}
		if s.Scope == "" {
			s.Scope = "all"
		}
		if s.Users == "" {
			s.Users = "all"
		}
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
