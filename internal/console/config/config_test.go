package config_test

import (
	"testing"
	"time"

	"github.com/bdobrica/InfraWhiz/internal/console/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.URL != "ws://localhost:8080/ws" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.SubmitTimeout != 90*time.Second || cfg.ExecutionTimeout != 10*time.Minute {
		t.Errorf("timeouts = %v / %v", cfg.SubmitTimeout, cfg.ExecutionTimeout)
	}
	if cfg.Matrix.Enabled() {
		t.Error("matrix should be disabled by default")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("WHIZ_URL", "wss://ops.example.com/ws")
	t.Setenv("WHIZ_SUBMIT_TIMEOUT", "15s")
	t.Setenv("WHIZ_METRICS_STALE_GUARD", "true")
	t.Setenv("WHIZ_MATRIX_HOMESERVER", "https://matrix.example.com")
	t.Setenv("WHIZ_MATRIX_ROOM_ID", "!ops:example.com")
	t.Setenv("WHIZ_MATRIX_USER_ID", "@whiz:example.com")
	t.Setenv("WHIZ_MATRIX_ACCESS_TOKEN", "syt_token")
	t.Setenv("WHIZ_MATRIX_OPERATORS", "@alice:example.com, @bob:example.com")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SubmitTimeout != 15*time.Second || !cfg.MetricsStaleGuard {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.Matrix.Enabled() || len(cfg.Matrix.Operators) != 2 || cfg.Matrix.Operators[1] != "@bob:example.com" {
		t.Errorf("unexpected matrix config: %+v", cfg.Matrix)
	}
}

// An invalid WHIZ_URL must not abort before a --url override is applied.
func TestLoad_InvalidURLOverridable(t *testing.T) {
	t.Setenv("WHIZ_URL", "http://wrong-scheme/ws")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load rejected an overridable URL: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected the environment URL to fail validation")
	}
	cfg.URL = "wss://ops.example.com/ws"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate after override: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
	}{
		{"http scheme", config.Config{URL: "http://localhost:8080/ws"}},
		{"negative timeout", config.Config{URL: "ws://x/ws", SubmitTimeout: -time.Second}},
		{"matrix without token", config.Config{URL: "ws://x/ws", Matrix: config.Matrix{Homeserver: "https://m", RoomID: "!r:m"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
