package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/audit"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/executor"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/gateway"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

type fakeServers struct{ servers []*registry.Server }

func (f *fakeServers) List(context.Context) ([]*registry.Server, error) { return f.servers, nil }

func (f *fakeServers) Get(_ context.Context, id string) (*registry.Server, error) {
	for _, s := range f.servers {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, registry.ErrNotFound
}

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, _ string, msg wire.UserMessage, servers []wire.ServerInfo) *wire.AIResponse {
	return &wire.AIResponse{
		Message:   "echo: " + msg.Text,
		Actions:   []wire.RawAction{{Type: wire.ActionExecute, ServerID: servers[0].ID, Command: "uptime"}},
		RequestID: msg.RequestID,
	}
}

// gatedRunner blocks "slow" until release is closed.
type gatedRunner struct{ release chan struct{} }

func (g *gatedRunner) Run(ctx context.Context, srv *registry.Server, command string) (*executor.Result, error) {
	if command == "slow" {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &executor.Result{Stdout: srv.Name + ": " + command, ExitCode: 0}, nil
}

type fixedMetrics struct{}

func (fixedMetrics) Collect(context.Context, *registry.Server) (*wire.Metrics, error) {
	return &wire.Metrics{Uptime: "up 1 day"}, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []audit.Record
	secrets [][]string
}

func (m *memRecorder) Record(_ context.Context, rec audit.Record, secrets ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	m.secrets = append(m.secrets, secrets)
}

type harness struct {
	gw      *gateway.Gateway
	url     string
	runner  *gatedRunner
	records *memRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{runner: &gatedRunner{release: make(chan struct{})}, records: &memRecorder{}}
	h.gw = gateway.New(gateway.Config{
		Servers: &fakeServers{servers: []*registry.Server{
			{ID: "srv-1", Name: "web-1", Hostname: "10.0.0.1", Port: 22, Username: "ops", AuthMethod: registry.AuthPassword, Password: "pw-secret"},
		}},
		Responder: echoResponder{},
		Runner:    h.runner,
		Metrics:   fixedMetrics{},
		Recorder:  h.records,
	})
	srv := httptest.NewServer(h.gw)
	h.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	t.Cleanup(func() {
		select {
		case <-h.runner.release:
		default:
			close(h.runner.release)
		}
		h.gw.Close()
		srv.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	msg, err := wire.Encode(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendRaw(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, c *websocket.Conn) *wire.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := wire.ParseFrame(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return f
}

func decode[T any](t *testing.T, f *wire.Frame, event string) T {
	t.Helper()
	if f.Event != event {
		t.Fatalf("event = %s, want %s (data %s)", f.Event, event, f.Data)
	}
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", event, err)
	}
	return v
}

func TestGateway_ListAndRespond(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	send(t, c, wire.EventListServers, wire.ListServers{})
	list := decode[wire.ServerList](t, recv(t, c), wire.EventServerList)
	if len(list.Servers) != 1 || list.Servers[0].Name != "web-1" {
		t.Fatalf("server_list = %+v", list)
	}
	if strings.Contains(string(mustJSON(t, list)), "pw-secret") {
		t.Fatal("credentials leaked into server_list")
	}

	send(t, c, wire.EventUserMessage, wire.UserMessage{Text: "uptime please", RequestID: "req-1"})
	resp := decode[wire.AIResponse](t, recv(t, c), wire.EventAIResponse)
	if resp.RequestID != "req-1" || resp.Message != "echo: uptime please" || len(resp.Actions) != 1 {
		t.Fatalf("ai_response = %+v", resp)
	}
}

func TestGateway_ExecuteAction(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	send(t, c, wire.EventExecuteAction, wire.ExecuteAction{ActionID: "s.1", ServerID: "srv-1", Command: "uptime", RequestToken: 9})
	res := decode[wire.ActionResult](t, recv(t, c), wire.EventActionResult)
	if res.ActionID != "s.1" || res.RequestToken != 9 || res.Stdout != "web-1: uptime" || res.ExitCode != 0 || res.Error != "" {
		t.Fatalf("action_result = %+v", res)
	}

	h.records.mu.Lock()
	defer h.records.mu.Unlock()
	if len(h.records.records) != 1 || h.records.records[0].ActionID != "s.1" {
		t.Fatalf("audit records = %+v", h.records.records)
	}
	if len(h.records.secrets[0]) != 1 || h.records.secrets[0][0] != "pw-secret" {
		t.Fatalf("password not passed for redaction: %v", h.records.secrets[0])
	}
}

func TestGateway_ExecuteUnknownServer(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	send(t, c, wire.EventExecuteAction, wire.ExecuteAction{ActionID: "s.2", ServerID: "ghost", Command: "ls"})
	res := decode[wire.ActionResult](t, recv(t, c), wire.EventActionResult)
	if res.ActionID != "s.2" || res.Error != "server not found" || res.ExitCode != -1 {
		t.Fatalf("action_result = %+v", res)
	}
}

func TestGateway_RejectsInvalidFrames(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	sendRaw(t, c, `{"event":"execute_action","data":{"actionId":"a","serverId":"srv-1"}}`)
	decode[wire.ErrorNotice](t, recv(t, c), wire.EventError)

	sendRaw(t, c, `not json`)
	decode[wire.ErrorNotice](t, recv(t, c), wire.EventError)

	sendRaw(t, c, `{"event":"reboot_everything","data":{}}`)
	decode[wire.ErrorNotice](t, recv(t, c), wire.EventError)

	// The connection survives rejected frames.
	send(t, c, wire.EventGetMetrics, wire.GetMetrics{ServerID: "srv-1"})
	decode[wire.MetricsUpdate](t, recv(t, c), wire.EventMetricsUpdate)
}

func TestGateway_MetricsNotBlockedBySlowCommand(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	send(t, c, wire.EventExecuteAction, wire.ExecuteAction{ActionID: "s.3", ServerID: "srv-1", Command: "slow"})
	send(t, c, wire.EventGetMetrics, wire.GetMetrics{ServerID: "srv-1", RequestToken: 4})

	upd := decode[wire.MetricsUpdate](t, recv(t, c), wire.EventMetricsUpdate)
	if upd.RequestToken != 4 || upd.Metrics == nil || upd.Metrics.Uptime != "up 1 day" {
		t.Fatalf("metrics_update = %+v", upd)
	}

	close(h.runner.release)
	res := decode[wire.ActionResult](t, recv(t, c), wire.EventActionResult)
	if res.ActionID != "s.3" {
		t.Fatalf("action_result = %+v", res)
	}
}

func TestGateway_RepliesOnlyToOrigin(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(t), h.dial(t)

	send(t, a, wire.EventUserMessage, wire.UserMessage{Text: "hi", RequestID: "from-a"})
	decode[wire.AIResponse](t, recv(t, a), wire.EventAIResponse)

	send(t, b, wire.EventListServers, wire.ListServers{})
	decode[wire.ServerList](t, recv(t, b), wire.EventServerList)
}

func TestGateway_ServerRemovedBroadcast(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(t), h.dial(t)

	// Round-trip on each connection so both are registered.
	for _, c := range []*websocket.Conn{a, b} {
		send(t, c, wire.EventListServers, wire.ListServers{})
		recv(t, c)
	}
	if n := h.gw.Connections(); n != 2 {
		t.Fatalf("Connections = %d", n)
	}

	h.gw.ServerRemoved("srv-1")
	for _, c := range []*websocket.Conn{a, b} {
		rm := decode[wire.ServerRemoved](t, recv(t, c), wire.EventServerRemoved)
		if rm.ServerID != "srv-1" {
			t.Fatalf("server_removed = %+v", rm)
		}
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
