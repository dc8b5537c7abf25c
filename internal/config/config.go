// Package config loads the relay configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name, e.g. RELAY_ADDR.
const Prefix = "RELAY"

// Config holds the relay settings. Defaults apply when a variable is unset.
type Config struct {
	// Addr is the listen address.
	Addr string `envconfig:"ADDR" default:"127.0.0.1:8080" validate:"required,hostname_port"`

	// DataDir holds the SQLite session ledger.
	DataDir string `envconfig:"DATA_DIR" default:"./data" validate:"required"`

	// CORSAllow lists origins allowed to call the JSON API.
	CORSAllow []string `envconfig:"CORS_ALLOW" default:"*"`

	// Connection keepalive and limits.
	ReadLimit    int64         `envconfig:"READ_LIMIT" default:"65536" validate:"gt=0"`
	PongWait     time.Duration `envconfig:"PONG_WAIT" default:"60s" validate:"gt=0"`
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"30s" validate:"gt=0,ltfield=PongWait"`
	WriteWait    time.Duration `envconfig:"WRITE_WAIT" default:"10s" validate:"gt=0"`

	// Session ledger housekeeping.
	SessionRetention time.Duration `envconfig:"SESSION_RETENTION" default:"168h" validate:"gte=0"`
	PruneSchedule    string        `envconfig:"PRUNE_SCHEDULE" default:"@every 1h"`
	StatsSchedule    string        `envconfig:"STATS_SCHEDULE" default:"@every 1m"`
}

// Load reads the configuration from RELAY_* environment variables and
// validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration. Call it again after applying flag overrides.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
