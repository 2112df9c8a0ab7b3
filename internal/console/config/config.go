// Package config loads the operator console's settings from WHIZ_*
// environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every console setting.
type Config struct {
	// URL is the backend gateway endpoint (WHIZ_URL).
	URL string `envconfig:"URL" default:"ws://localhost:8080/ws"`

	// PolicyFile is an optional YAML file of destructive-command rules.
	PolicyFile string `envconfig:"POLICY_FILE"`
	// ConfirmUnknown sends actions with unrecognised type tags through the
	// confirmation gate instead of executing them.
	ConfirmUnknown bool `envconfig:"CONFIRM_UNKNOWN" default:"false"`

	SubmitTimeout    time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"90s"`
	ExecutionTimeout time.Duration `envconfig:"EXECUTION_TIMEOUT" default:"10m"`

	// MetricsStaleGuard discards metrics updates that answer an older
	// refresh than one already applied.
	MetricsStaleGuard bool `envconfig:"METRICS_STALE_GUARD" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"warn"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	NoColor   bool   `envconfig:"NO_COLOR" default:"false"`

	Matrix Matrix
}

// Matrix configures the optional room surface (WHIZ_MATRIX_*).
type Matrix struct {
	Homeserver  string   `envconfig:"HOMESERVER"`
	UserID      string   `envconfig:"USER_ID"`
	AccessToken string   `envconfig:"ACCESS_TOKEN"`
	RoomID      string   `envconfig:"ROOM_ID"`
	Operators   []string `envconfig:"OPERATORS"`
}

// Enabled reports whether the Matrix surface is configured.
func (m Matrix) Enabled() bool { return m.Homeserver != "" && m.RoomID != "" }

// Load reads the environment. It does not validate: command-line flags may
// still override what it read, so callers run Validate afterwards.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("WHIZ", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for i, op := range cfg.Matrix.Operators {
		cfg.Matrix.Operators[i] = strings.TrimSpace(op)
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("config: backend URL (WHIZ_URL or --url): %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: backend URL (WHIZ_URL or --url) must use ws:// or wss://, got %q", c.URL)
	}
	if c.SubmitTimeout < 0 || c.ExecutionTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	m := c.Matrix
	if m.Enabled() && (m.UserID == "" || m.AccessToken == "") {
		return fmt.Errorf("config: WHIZ_MATRIX_USER_ID and WHIZ_MATRIX_ACCESS_TOKEN are required with a Matrix room")
	}
	return nil
}
