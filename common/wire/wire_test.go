package wire_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/InfraWhiz/common/wire"
)

func TestEncodeParseFrame(t *testing.T) {
	msg, err := wire.Encode(wire.EventGetMetrics, wire.GetMetrics{ServerID: "srv-1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := wire.ParseFrame(msg)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Event != wire.EventGetMetrics || f.TS.IsZero() {
		t.Fatalf("unexpected frame: %+v", f)
	}
	var req wire.GetMetrics
	if err := wire.Decode(f.Event, f.Data, &req); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.ServerID != "srv-1" {
		t.Fatalf("serverId = %q", req.ServerID)
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	cases := []struct {
		name string
		msg  string
	}{
		{"not json", `hello`},
		{"no event", `{"data":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := wire.ParseFrame([]byte(tc.msg))
			if !errors.Is(err, wire.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestDecode_AIResponse(t *testing.T) {
	data := []byte(`{
		"message": "Restart nginx?",
		"actions": [
			{"type": "confirm", "serverId": "srv-1", "command": "systemctl restart nginx"},
			{"type": "info"}
		],
		"intent": {"intent": "command", "targetServer": "web", "action": "restart nginx"}
	}`)
	var resp wire.AIResponse
	if err := wire.Decode(wire.EventAIResponse, data, &resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(resp.Actions) != 2 || resp.Actions[0].Command != "systemctl restart nginx" {
		t.Fatalf("unexpected actions: %+v", resp.Actions)
	}
	if resp.Intent == nil || resp.Intent.Intent != "command" {
		t.Fatalf("unexpected intent: %+v", resp.Intent)
	}
}

func TestDecode_SchemaViolations(t *testing.T) {
	cases := []struct {
		name  string
		event string
		data  string
	}{
		{"ai_response without message", wire.EventAIResponse, `{"actions":[]}`},
		{"action without type", wire.EventAIResponse, `{"message":"x","actions":[{"command":"ls"}]}`},
		{"result without actionId", wire.EventActionResult, `{"stdout":"","stderr":"","exitCode":0}`},
		{"result with fractional exit code", wire.EventActionResult, `{"actionId":"a1","exitCode":1.5}`},
		{"metrics without serverId", wire.EventMetricsUpdate, `{"metrics":{}}`},
		{"unknown event", "reboot_everything", `{}`},
		{"malformed", wire.EventUserMessage, `{"text":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out map[string]any
			err := wire.Decode(tc.event, json.RawMessage(tc.data), &out)
			if !errors.Is(err, wire.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestDecode_MetricsUpdateNullSnapshot(t *testing.T) {
	var upd wire.MetricsUpdate
	if err := wire.Decode(wire.EventMetricsUpdate, []byte(`{"serverId":"srv-1","metrics":null,"error":"timeout"}`), &upd); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if upd.Metrics != nil || upd.Error != "timeout" {
		t.Fatalf("unexpected update: %+v", upd)
	}
}

func TestEncode_MetricsFieldNames(t *testing.T) {
	cpu, used, total, rx, tx := 12.5, int64(512), int64(2048), int64(10), int64(20)
	msg, err := wire.Encode(wire.EventMetricsUpdate, wire.MetricsUpdate{ServerID: "srv-1", Metrics: &wire.Metrics{
		CPUUsage: &cpu, MemoryUsed: &used, MemoryTotal: &total,
		DiskUsed: "8G", DiskTotal: "20G", LoadAvg: []float64{0.1, 0.2, 0.3},
		NetworkRx: &rx, NetworkTx: &tx, Uptime: "up 1 hour",
	}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, key := range []string{"cpuUsage", "memoryUsed", "memoryTotal", "diskUsed", "diskTotal", "loadAvg", "networkRx", "networkTx", "uptime"} {
		if !strings.Contains(string(msg), `"`+key+`":`) {
			t.Errorf("encoded frame lacks %q: %s", key, msg)
		}
	}
}
