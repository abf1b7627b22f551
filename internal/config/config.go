// Package config holds runtime settings shared by every command.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mtlprog/taskmesh/internal/auth"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultBrokerURL selects the in-process broker.
	DefaultBrokerURL = "memory://"

	// DefaultTokenLifetime is how long issued access tokens stay valid.
	DefaultTokenLifetime = 24 * time.Hour

	DefaultOutboxBatchSize    = 50
	DefaultOutboxPollInterval = time.Second
	DefaultOutboxMaxAttempts  = 8

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the resolved configuration of one process.
type Config struct {
	Port               string
	DatabaseURL        string
	BrokerURL          string
	JWTSecret          string
	TokenLifetime      time.Duration
	OutboxBatchSize    int
	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
	ShutdownTimeout    time.Duration
	LogLevel           string
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		Port:               DefaultPort,
		DatabaseURL:        DefaultDatabaseURL,
		BrokerURL:          DefaultBrokerURL,
		TokenLifetime:      DefaultTokenLifetime,
		OutboxBatchSize:    DefaultOutboxBatchSize,
		OutboxPollInterval: DefaultOutboxPollInterval,
		OutboxMaxAttempts:  DefaultOutboxMaxAttempts,
		ShutdownTimeout:    DefaultShutdownTimeout,
		LogLevel:           "info",
	}
}

// Validate reports every invalid setting at once. Token settings are
// checked separately by ValidateAuth.
func (c Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database url is required"))
	}
	if c.BrokerURL == "" {
		errs = append(errs, errors.New("broker url is required"))
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// ValidateAuth checks the token settings needed by commands that verify or
// issue access tokens.
func (c Config) ValidateAuth() error {
	var errs []error
	if len(c.JWTSecret) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("jwt secret must be at least %d characters", auth.MinSecretLength))
	}
	if c.TokenLifetime <= 0 {
		errs = append(errs, errors.New("token lifetime must be positive"))
	}
	return errors.Join(errs...)
}
