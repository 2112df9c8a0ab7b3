package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/bdobrica/InfraWhiz/common/observability"
	"github.com/bdobrica/InfraWhiz/common/trace"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := observability.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup_JSONWithTrace(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	observability.Setup(&buf, "info", "json")
	ctx := trace.WithTraceID(context.Background(), "req_42")
	observability.WithTrace(ctx).Info("executed", "server_id", "srv-1")
	slog.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"req_42"`) || !strings.Contains(out, `"server_id":"srv-1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line logged at info level")
	}
}
