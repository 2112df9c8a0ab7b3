package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bdobrica/InfraWhiz/common/redact"
	"github.com/bdobrica/InfraWhiz/common/retry"
	"github.com/bdobrica/InfraWhiz/common/wire"
)

// WebSocketConfig configures a WebSocket channel.
type WebSocketConfig struct {
	// URL of the backend gateway, e.g. ws://localhost:8080/ws.
	URL string
	// Header is sent with every handshake (e.g. a proxy auth header).
	Header http.Header
	// HandshakeTimeout bounds each dial attempt. Default 10s.
	HandshakeTimeout time.Duration
	// PingInterval is how often a keepalive ping is sent. A connection that
	// misses two pong windows is considered dead. Default 20s.
	PingInterval time.Duration
	// SendBuffer is the number of outbound frames queued per connection.
	// Default 64.
	SendBuffer int
	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	// Defaults 500ms and 30s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *WebSocketConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

// WebSocket is a Transport over a single gorilla/websocket connection that
// redials with exponential backoff whenever the connection drops.
type WebSocket struct {
	cfg WebSocketConfig

	mu        sync.Mutex
	state     State
	out       chan []byte
	handlers  map[string][]Handler
	stateSubs []func(State)
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket returns a stopped channel. Register handlers, then call Start.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	cfg.applyDefaults()
	return &WebSocket{
		cfg:      cfg,
		state:    Closed,
		handlers: make(map[string][]Handler),
	}
}

// Start begins the connect loop. It returns immediately; watch OnStateChange
// to learn when the channel opens.
func (w *WebSocket) Start(ctx context.Context) error {
	if w.cfg.URL == "" {
		return fmt.Errorf("transport: websocket url is required")
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("transport: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(runCtx)
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (w *WebSocket) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
}

// Send implements Transport.
func (w *WebSocket) Send(event string, payload any) error {
	msg, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Open || w.out == nil {
		return ErrNotConnected
	}
	select {
	case w.out <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// On implements Transport.
func (w *WebSocket) On(event string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[event] = append(w.handlers[event], h)
}

// State implements Transport.
func (w *WebSocket) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnStateChange implements Transport.
func (w *WebSocket) OnStateChange(fn func(State)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stateSubs = append(w.stateSubs, fn)
}

func (w *WebSocket) setState(s State) {
	w.mu.Lock()
	if w.state == s {
		w.mu.Unlock()
		return
	}
	w.state = s
	if s != Open {
		w.out = nil
	}
	subs := append(([]func(State))(nil), w.stateSubs...)
	w.mu.Unlock()

	slog.Debug("transport: state changed", "state", s.String())
	for _, fn := range subs {
		fn(s)
	}
}

func (w *WebSocket) run(ctx context.Context) {
	defer w.wg.Done()
	defer w.setState(Closed)

	backoff := &retry.Backoff{Initial: w.cfg.ReconnectMin, Max: w.cfg.ReconnectMax}
	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.HandshakeTimeout}

	for ctx.Err() == nil {
		w.setState(Connecting)
		conn, _, err := dialer.DialContext(ctx, w.cfg.URL, w.cfg.Header)
		if err != nil {
			delay := backoff.Next()
			slog.Warn("transport: dial failed", "url", redact.URL(w.cfg.URL), "err", err, "retry_in", delay)
			if retry.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		backoff.Reset()
		slog.Info("transport: connected", "url", redact.URL(w.cfg.URL))
		err = w.serve(ctx, conn)
		if ctx.Err() == nil {
			slog.Warn("transport: connection lost", "err", err)
		}
	}
}

// serve runs one connection until it fails or ctx is cancelled.
func (w *WebSocket) serve(ctx context.Context, conn *websocket.Conn) error {
	out := make(chan []byte, w.cfg.SendBuffer)
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
	w.setState(Open)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan error, 1)
	go func() { writeDone <- w.writeLoop(connCtx, conn, out) }()

	readErr := w.readLoop(conn)
	cancel()
	_ = conn.Close()
	writeErr := <-writeDone

	w.setState(Connecting)
	if readErr != nil {
		return readErr
	}
	return writeErr
}

func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	deadline := 2 * w.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		w.dispatch(msg)
	}
}

func (w *WebSocket) dispatch(msg []byte) {
	frame, err := wire.ParseFrame(msg)
	if err != nil {
		slog.Warn("transport: dropping malformed frame", "err", err)
		return
	}
	w.mu.Lock()
	hs := append([]Handler(nil), w.handlers[frame.Event]...)
	w.mu.Unlock()
	if len(hs) == 0 {
		slog.Debug("transport: no handler for event", "event", frame.Event)
		return
	}
	for _, h := range hs {
		h(json.RawMessage(frame.Data))
	}
}

// writeLoop owns all writes on conn; gorilla allows one concurrent writer.
func (w *WebSocket) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) error {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	const writeWait = 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return nil
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return err
			}
		}
	}
}
