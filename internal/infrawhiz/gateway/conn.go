package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bdobrica/InfraWhiz/common/trace"
	"github.com/bdobrica/InfraWhiz/common/wire"
)

const writeWait = 10 * time.Second

// conn is one console connection. The read loop feeds lanes; each lane is a
// goroutine draining its frames in order. All socket writes happen in
// writeLoop.
type conn struct {
	g   *Gateway
	id  string
	ws  *websocket.Conn
	out chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	lanes map[string]chan *wire.Frame
	wg    sync.WaitGroup
}

func newConn(g *Gateway, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		g:      g,
		id:     trace.GenerateID("conn"),
		ws:     ws,
		out:    make(chan []byte, g.cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]chan *wire.Frame),
	}
}

func (c *conn) serve() {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writeLoop()
	}()

	err := c.readLoop()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Debug("gateway: read loop ended", "conn_id", c.id, "err", err)
	}

	c.cancel()
	c.mu.Lock()
	for _, lane := range c.lanes {
		close(lane)
	}
	c.lanes = nil
	c.mu.Unlock()
	c.wg.Wait()
	<-writeDone
	c.ws.Close()
}

func (c *conn) close() {
	c.cancel()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
	c.ws.Close()
}

func (c *conn) readLoop() error {
	c.ws.SetReadLimit(c.g.cfg.ReadLimit)
	deadline := 2 * c.g.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		frame, err := wire.ParseFrame(msg)
		if err != nil {
			c.reject(slog.With("conn_id", c.id), err)
			continue
		}
		c.route(frame)
	}
}

// route queues frame on its lane, creating the lane on first use.
func (c *conn) route(frame *wire.Frame) {
	key := laneKey(frame)
	c.mu.Lock()
	lane, ok := c.lanes[key]
	if !ok {
		lane = make(chan *wire.Frame, c.g.cfg.LaneBuffer)
		c.lanes[key] = lane
		c.wg.Add(1)
		go c.drain(lane)
	}
	c.mu.Unlock()

	select {
	case lane <- frame:
	case <-c.ctx.Done():
	}
}

func (c *conn) drain(lane <-chan *wire.Frame) {
	defer c.wg.Done()
	for frame := range lane {
		if c.ctx.Err() != nil {
			continue
		}
		ctx := trace.WithTraceID(c.ctx, trace.GenerateID("req"))
		c.g.handle(ctx, c, frame)
	}
}

// laneKey serialises executions per target server and everything else per
// event name.
func laneKey(frame *wire.Frame) string {
	if frame.Event == wire.EventExecuteAction {
		var req wire.ExecuteAction
		if err := wire.Decode(frame.Event, frame.Data, &req); err == nil {
			return frame.Event + ":" + req.ServerID
		}
	}
	return frame.Event
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("gateway: write failed", "conn_id", c.id, "err", err)
				c.cancel()
				c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.cancel()
				c.ws.Close()
				return
			}
		}
	}
}

func (c *conn) send(event string, payload any) {
	msg, err := wire.Encode(event, payload)
	if err != nil {
		slog.Error("gateway: encode frame", "event", event, "err", err)
		return
	}
	c.enqueue(msg)
}

// enqueue blocks while the outbound queue is full so replies are never
// dropped; a dead connection releases it through ctx.
func (c *conn) enqueue(msg []byte) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *conn) reject(log *slog.Logger, err error) {
	log.Warn("gateway: rejecting frame", "err", err)
	c.send(wire.EventError, wire.ErrorNotice{Message: err.Error()})
}
