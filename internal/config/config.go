package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
)

const (
	// DefaultActionTimeout bounds how long a command waits for its acknowledgement.
	DefaultActionTimeout = 8 * time.Second
	// DefaultReconnectInterval is the fixed pause between reconnection attempts.
	DefaultReconnectInterval = 3 * time.Second
	// DefaultReconnectMaxAttempts caps consecutive reconnection attempts before giving up.
	DefaultReconnectMaxAttempts = 5
	// DefaultOrderingFlushDelay is how long a sequence gap may stall delivery.
	DefaultOrderingFlushDelay = 200 * time.Millisecond
	// DefaultInputInterval is the movement input aggregation window.
	DefaultInputInterval = 100 * time.Millisecond
	// DefaultHeartbeatInterval is the liveness beacon cadence.
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultPollInterval is the state polling cadence for poll transport mode.
	DefaultPollInterval = 150 * time.Millisecond
	// DefaultJournalSnapshotInterval bounds how often session snapshots are journaled.
	DefaultJournalSnapshotInterval = 5 * time.Second

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"

	// ModeStream consumes updates over the realtime stream.
	ModeStream = "stream"
	// ModePoll consumes updates by polling the sync endpoint.
	ModePoll = "poll"
)

// Config captures all runtime tunables for the sync client.
type Config struct {
	ServerURL               string        `envconfig:"SERVER_URL"`
	Mode                    string        `envconfig:"MODE"`
	LogLevel                string        `envconfig:"LOG_LEVEL"`
	ActionTimeout           time.Duration `envconfig:"ACTION_TIMEOUT"`
	ReconnectInterval       time.Duration `envconfig:"RECONNECT_INTERVAL"`
	ReconnectMaxAttempts    int           `envconfig:"RECONNECT_MAX_ATTEMPTS"`
	OrderingFlushDelay      time.Duration `envconfig:"ORDERING_FLUSH_DELAY"`
	InputInterval           time.Duration `envconfig:"INPUT_INTERVAL"`
	HeartbeatInterval       time.Duration `envconfig:"HEARTBEAT_INTERVAL"`
	PollInterval            time.Duration `envconfig:"POLL_INTERVAL"`
	JournalDir              string        `envconfig:"JOURNAL_DIR"`
	JournalSnapshotInterval time.Duration `envconfig:"JOURNAL_SNAPSHOT_INTERVAL"`
}

// Default returns a configuration populated with every default tunable.
func Default() Config {
	return Config{
		Mode:                    ModeStream,
		LogLevel:                DefaultLogLevel,
		ActionTimeout:           DefaultActionTimeout,
		ReconnectInterval:       DefaultReconnectInterval,
		ReconnectMaxAttempts:    DefaultReconnectMaxAttempts,
		OrderingFlushDelay:      DefaultOrderingFlushDelay,
		InputInterval:           DefaultInputInterval,
		HeartbeatInterval:       DefaultHeartbeatInterval,
		PollInterval:            DefaultPollInterval,
		JournalSnapshotInterval: DefaultJournalSnapshotInterval,
	}
}

// Load reads the client configuration from NETCLIENT_* environment variables,
// applying defaults for anything unset and validating the result.
func Load() (*Config, error) {
	cfg := Default()
	//1.- Unset variables keep their defaulted values, set ones override them.
	if err := envconfig.Process("netclient", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration rather than stopping
// at the first one.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if strings.TrimSpace(c.ServerURL) == "" {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_SERVER_URL must be provided"))
	} else if parsed, err := url.Parse(c.ServerURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_SERVER_URL must be an absolute http(s) URL, got %q", c.ServerURL))
	}
	if c.Mode != ModeStream && c.Mode != ModePoll {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_MODE must be %q or %q, got %q", ModeStream, ModePoll, c.Mode))
	}
	if c.ActionTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_ACTION_TIMEOUT must be a positive duration, got %v", c.ActionTimeout))
	}
	if c.ReconnectInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_RECONNECT_INTERVAL must be a positive duration, got %v", c.ReconnectInterval))
	}
	if c.ReconnectMaxAttempts <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_RECONNECT_MAX_ATTEMPTS must be a positive integer, got %d", c.ReconnectMaxAttempts))
	}
	if c.OrderingFlushDelay <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_ORDERING_FLUSH_DELAY must be a positive duration, got %v", c.OrderingFlushDelay))
	}
	if c.InputInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_INPUT_INTERVAL must be a positive duration, got %v", c.InputInterval))
	}
	if c.HeartbeatInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_HEARTBEAT_INTERVAL must be a positive duration, got %v", c.HeartbeatInterval))
	}
	if c.PollInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_POLL_INTERVAL must be a positive duration, got %v", c.PollInterval))
	}
	if c.JournalSnapshotInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("NETCLIENT_JOURNAL_SNAPSHOT_INTERVAL must be a positive duration, got %v", c.JournalSnapshotInterval))
	}

	return errs.ErrorOrNil()
}
