// Package gateway is the backend end of the console channel: a WebSocket
// endpoint that answers user messages, runs execute_action requests, and
// serves metrics.
//
// Replies go only to the connection that asked. Frames of one event kind
// are handled in arrival order; different kinds (and executions on
// different servers) proceed independently, so a slow command never holds
// up metrics.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bdobrica/InfraWhiz/common/trace"
	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/audit"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/executor"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

// Servers is the registry surface the gateway needs.
type Servers interface {
	List(ctx context.Context) ([]*registry.Server, error)
	Get(ctx context.Context, id string) (*registry.Server, error)
}

// Responder answers a user message.
type Responder interface {
	Respond(ctx context.Context, connID string, msg wire.UserMessage, servers []wire.ServerInfo) *wire.AIResponse
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, srv *registry.Server, command string) (*executor.Result, error)
}

// MetricsSource collects a metrics snapshot.
type MetricsSource interface {
	Collect(ctx context.Context, srv *registry.Server) (*wire.Metrics, error)
}

// Recorder audits executions.
type Recorder interface {
	Record(ctx context.Context, rec audit.Record, secrets ...string)
}

// Config wires a Gateway. Recorder may be nil.
type Config struct {
	Servers   Servers
	Responder Responder
	Runner    Runner
	Metrics   MetricsSource
	Recorder  Recorder
	// OnDisconnect, when set, is called with the id of every closed
	// connection.
	OnDisconnect func(connID string)

	// ReadLimit caps inbound frame size. Default 64 KiB.
	ReadLimit int64
	// PingInterval is the keepalive period. Default 20s.
	PingInterval time.Duration
	// SendBuffer is the per-connection outbound queue length. Default 64.
	SendBuffer int
	// LaneBuffer is how many frames of one kind may wait. Default 32.
	LaneBuffer int
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
}

func (c *Config) applyDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = 32
	}
}

// Gateway is an http.Handler serving the console channel.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

// New returns a Gateway.
func New(cfg Config) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{cfg: cfg, conns: make(map[string]*conn)}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newConn(g, ws)
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		ws.Close()
		return
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	g.mu.Unlock()

	slog.Info("gateway: console connected", "conn_id", c.id, "remote", r.RemoteAddr)
	go func() {
		defer g.wg.Done()
		c.serve()
		g.mu.Lock()
		delete(g.conns, c.id)
		g.mu.Unlock()
		if g.cfg.OnDisconnect != nil {
			g.cfg.OnDisconnect(c.id)
		}
		slog.Info("gateway: console disconnected", "conn_id", c.id)
	}()
}

// Broadcast sends a frame to every connected console.
func (g *Gateway) Broadcast(event string, payload any) {
	msg, err := wire.Encode(event, payload)
	if err != nil {
		slog.Error("gateway: encode broadcast", "event", event, "err", err)
		return
	}
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		go c.enqueue(msg)
	}
}

// ServerRemoved tells every console that a server is gone.
func (g *Gateway) ServerRemoved(serverID string) {
	g.Broadcast(wire.EventServerRemoved, wire.ServerRemoved{ServerID: serverID})
}

// Connections returns the number of open console connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close disconnects every console and waits for their handlers to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	g.wg.Wait()
}

func (g *Gateway) handle(ctx context.Context, c *conn, frame *wire.Frame) {
	log := slog.With("conn_id", c.id, "event", frame.Event, "trace_id", trace.FromContext(ctx))

	switch frame.Event {
	case wire.EventUserMessage:
		var msg wire.UserMessage
		if err := wire.Decode(frame.Event, frame.Data, &msg); err != nil {
			c.reject(log, err)
			return
		}
		infos, err := g.serverInfos(ctx)
		if err != nil {
			log.Error("list servers", "err", err)
		}
		c.send(wire.EventAIResponse, g.cfg.Responder.Respond(ctx, c.id, msg, infos))

	case wire.EventExecuteAction:
		var req wire.ExecuteAction
		if err := wire.Decode(frame.Event, frame.Data, &req); err != nil {
			c.reject(log, err)
			return
		}
		c.send(wire.EventActionResult, g.execute(ctx, log, req))

	case wire.EventGetMetrics:
		var req wire.GetMetrics
		if err := wire.Decode(frame.Event, frame.Data, &req); err != nil {
			c.reject(log, err)
			return
		}
		c.send(wire.EventMetricsUpdate, g.metrics(ctx, log, req))

	case wire.EventListServers:
		infos, err := g.serverInfos(ctx)
		if err != nil {
			log.Error("list servers", "err", err)
			c.send(wire.EventError, wire.ErrorNotice{Message: "could not list servers"})
			return
		}
		c.send(wire.EventServerList, wire.ServerList{Servers: infos})

	default:
		c.reject(log, errors.New("unsupported event "+frame.Event))
	}
}

func (g *Gateway) execute(ctx context.Context, log *slog.Logger, req wire.ExecuteAction) wire.ActionResult {
	out := wire.ActionResult{ActionID: req.ActionID, ServerID: req.ServerID, RequestToken: req.RequestToken, ExitCode: -1}

	srv, err := g.cfg.Servers.Get(ctx, req.ServerID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			out.Error = "server not found"
		} else {
			log.Error("load server", "server_id", req.ServerID, "err", err)
			out.Error = "could not load server"
		}
		return out
	}

	log.Info("executing command", "server_id", srv.ID, "action_id", req.ActionID)
	res, err := g.cfg.Runner.Run(ctx, srv, req.Command)
	rec := audit.Record{ServerID: srv.ID, ServerName: srv.Name, ActionID: req.ActionID, Command: req.Command}
	if err != nil {
		log.Warn("command failed to run", "server_id", srv.ID, "action_id", req.ActionID, "err", err)
		out.Error = err.Error()
		rec.ExitCode, rec.Error = -1, out.Error
	} else {
		out.Stdout, out.Stderr, out.ExitCode = res.Stdout, res.Stderr, res.ExitCode
		rec.Stdout, rec.Stderr, rec.ExitCode, rec.Duration = res.Stdout, res.Stderr, res.ExitCode, res.Duration
	}
	if g.cfg.Recorder != nil {
		g.cfg.Recorder.Record(ctx, rec, srv.Password)
	}
	return out
}

func (g *Gateway) metrics(ctx context.Context, log *slog.Logger, req wire.GetMetrics) wire.MetricsUpdate {
	out := wire.MetricsUpdate{ServerID: req.ServerID, RequestToken: req.RequestToken}
	srv, err := g.cfg.Servers.Get(ctx, req.ServerID)
	if err != nil {
		out.Error = "server not found"
		if !errors.Is(err, registry.ErrNotFound) {
			log.Error("load server", "server_id", req.ServerID, "err", err)
			out.Error = "could not load server"
		}
		return out
	}
	m, err := g.cfg.Metrics.Collect(ctx, srv)
	if err != nil {
		log.Warn("metrics collection failed", "server_id", srv.ID, "err", err)
		out.Error = err.Error()
		return out
	}
	out.Metrics = m
	return out
}

func (g *Gateway) serverInfos(ctx context.Context) ([]wire.ServerInfo, error) {
	servers, err := g.cfg.Servers.List(ctx)
	if err != nil {
		return []wire.ServerInfo{}, err
	}
	infos := make([]wire.ServerInfo, 0, len(servers))
	for _, s := range servers {
		infos = append(infos, s.Info())
	}
	return infos, nil
}
