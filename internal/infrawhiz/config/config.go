// Package config loads backend settings from INFRAWHIZ_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/bdobrica/InfraWhiz/common/crypto"
)

// Config holds every backend setting.
type Config struct {
	// Addr is the listen address for the console channel, REST API and
	// health endpoints.
	Addr   string `envconfig:"ADDR" default:":8080"`
	DBPath string `envconfig:"DB_PATH" default:"infrawhiz.db"`

	// MasterKey is a hex-encoded 32-byte key used to seal server passwords.
	// Without it only key and docker servers can be registered.
	MasterKey string `envconfig:"MASTER_KEY"`

	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"2m"`
	SSHIdleTimeout time.Duration `envconfig:"SSH_IDLE_TIMEOUT" default:"10m"`
	// KnownHosts enables SSH host key verification.
	KnownHosts    string `envconfig:"KNOWN_HOSTS"`
	DockerEnabled bool   `envconfig:"DOCKER_ENABLED" default:"false"`

	// AllowedOrigins restricts which browser origins may open the console
	// channel. Empty allows any.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	NLP   NLP
	Kafka Kafka
}

// NLP configures intent parsing (INFRAWHIZ_NLP_*). Without an API key only
// the keyword parser is used.
type NLP struct {
	APIKey    string        `envconfig:"API_KEY"`
	BaseURL   string        `envconfig:"BASE_URL"`
	Model     string        `envconfig:"MODEL"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30s"`
	RateLimit int           `envconfig:"RATE_LIMIT" default:"20"`
}

// LLMEnabled reports whether an LLM endpoint is configured.
func (n NLP) LLMEnabled() bool { return n.APIKey != "" || n.BaseURL != "" }

// Kafka configures the optional audit stream (INFRAWHIZ_KAFKA_*).
type Kafka struct {
	Brokers []string `envconfig:"BROKERS"`
	Topic   string   `envconfig:"TOPIC" default:"infrawhiz.command-history"`
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("INFRAWHIZ", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: INFRAWHIZ_ADDR must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: INFRAWHIZ_DB_PATH must not be empty")
	}
	if c.MasterKey != "" {
		if _, err := crypto.NewSealerFromHex(c.MasterKey); err != nil {
			return fmt.Errorf("config: INFRAWHIZ_MASTER_KEY: %w", err)
		}
	}
	if c.CommandTimeout < 0 || c.SSHIdleTimeout < 0 || c.NLP.Timeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("config: INFRAWHIZ_KAFKA_TOPIC is required with brokers")
	}
	for i, b := range c.Kafka.Brokers {
		c.Kafka.Brokers[i] = strings.TrimSpace(b)
	}
	for i, o := range c.AllowedOrigins {
		c.AllowedOrigins[i] = strings.TrimSpace(o)
	}
	return nil
}

// Sealer returns the password sealer, or nil when no master key is set.
func (c *Config) Sealer() (*crypto.Sealer, error) {
	if c.MasterKey == "" {
		return nil, nil
	}
	return crypto.NewSealerFromHex(c.MasterKey)
}
