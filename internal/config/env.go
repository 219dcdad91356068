package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
)

// envOverrides are the fields that can be set from the environment.
type envOverrides struct {
	Host           string        `env:"KUZZLE_HOST"`
	Port           int           `env:"KUZZLE_PORT"`
	SSL            string        `env:"KUZZLE_SSL"`
	Token          string        `env:"KUZZLE_TOKEN"`
	Username       string        `env:"KUZZLE_USERNAME"`
	Password       string        `env:"KUZZLE_PASSWORD"`
	RequestTimeout time.Duration `env:"KUZZLE_REQUEST_TIMEOUT"`
	PingInterval   time.Duration `env:"KUZZLE_PING_INTERVAL"`
	LogLevel       string        `env:"KUZZLE_LOG_LEVEL"`
	DBPassword     string        `env:"KUZZLE_DB_PASSWORD"`
}

// ApplyEnv overlays KUZZLE_* environment variables onto the config.
// Unset variables leave the file values untouched.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}

	if env.Host != "" {
		c.Server.Host = env.Host
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.SSL != "" {
		ssl, err := strconv.ParseBool(env.SSL)
		if err != nil {
			return fmt.Errorf("KUZZLE_SSL: %w", err)
		}
		c.Server.SSL = ssl
	}
	if env.Token != "" {
		c.Auth.Token = env.Token
	}
	if env.Username != "" {
		c.Auth.Username = env.Username
	}
	if env.Password != "" {
		c.Auth.Password = env.Password
	}
	if env.RequestTimeout != 0 {
		c.Session.RequestTimeout = env.RequestTimeout
	}
	if env.PingInterval != 0 {
		c.Session.PingInterval = env.PingInterval
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.DBPassword != "" {
		c.Database.Postgres.Password = env.DBPassword
	}
	return nil
}
