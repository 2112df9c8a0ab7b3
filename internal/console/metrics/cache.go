// Package metrics keeps the latest health snapshot per server.
//
// Updates are applied last-write-wins in arrival order. Metrics never enter
// the command session history.
package metrics

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

// ErrNoServer is returned by RequestRefresh for an empty server id.
var ErrNoServer = errors.New("metrics: server id is required")

// Snapshot is the cached state of one server.
type Snapshot struct {
	ServerID string
	// Metrics is the most recent snapshot, nil when the most recent
	// collection failed.
	Metrics *wire.Metrics
	// Error is set when the most recent collection failed.
	Error      string
	ReceivedAt time.Time
	Token      uint64
}

// Change is delivered to subscribers whenever the cache changes.
type Change struct {
	ServerID string
	Snapshot Snapshot
	Removed  bool
}

// Option customises a Cache.
type Option func(*Cache)

// WithStaleGuard makes every refresh carry a per-server request token and
// discards updates answering an older request than one already applied.
// Without it, updates are applied strictly last-write-wins.
func WithStaleGuard() Option { return func(c *Cache) { c.staleGuard = true } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// Cache is safe for concurrent use.
type Cache struct {
	tr         transport.Transport
	staleGuard bool
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]Snapshot
	issued  map[string]uint64
	applied map[string]uint64
	subs    []func(Change)
}

// New returns a Cache subscribed to metrics_update and server_removed.
func New(tr transport.Transport, opts ...Option) *Cache {
	c := &Cache{
		tr:      tr,
		now:     time.Now,
		entries: make(map[string]Snapshot),
		issued:  make(map[string]uint64),
		applied: make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	tr.On(wire.EventMetricsUpdate, func(p json.RawMessage) {
		var u wire.MetricsUpdate
		if err := wire.Decode(wire.EventMetricsUpdate, p, &u); err != nil {
			slog.Warn("metrics: dropping update", "err", err)
			return
		}
		c.OnUpdate(u)
	})
	tr.On(wire.EventServerRemoved, func(p json.RawMessage) {
		var r wire.ServerRemoved
		if err := wire.Decode(wire.EventServerRemoved, p, &r); err != nil {
			slog.Warn("metrics: dropping server_removed", "err", err)
			return
		}
		c.OnServerRemoved(r.ServerID)
	})
	return c
}

// Subscribe registers fn for every subsequent change. fn runs without the
// cache lock held.
func (c *Cache) Subscribe(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// RequestRefresh asks the backend for a fresh snapshot of serverID.
func (c *Cache) RequestRefresh(serverID string) error {
	if serverID == "" {
		return ErrNoServer
	}
	req := wire.GetMetrics{ServerID: serverID}
	c.mu.Lock()
	if c.staleGuard {
		c.issued[serverID]++
		req.RequestToken = c.issued[serverID]
	}
	c.mu.Unlock()
	return c.tr.Send(wire.EventGetMetrics, req)
}

// OnUpdate replaces the server's snapshot with u. Nothing from an earlier
// snapshot survives, including its metrics when u reports an error.
func (c *Cache) OnUpdate(u wire.MetricsUpdate) {
	c.mu.Lock()
	if c.staleGuard && u.RequestToken != 0 && u.RequestToken < c.applied[u.ServerID] {
		applied := c.applied[u.ServerID]
		c.mu.Unlock()
		slog.Debug("metrics: discarding stale update", "server_id", u.ServerID, "token", u.RequestToken, "applied", applied)
		return
	}
	snap := Snapshot{
		ServerID:   u.ServerID,
		Metrics:    u.Metrics,
		Error:      u.Error,
		ReceivedAt: c.now(),
		Token:      u.RequestToken,
	}
	if u.RequestToken > c.applied[u.ServerID] {
		c.applied[u.ServerID] = u.RequestToken
	}
	c.entries[u.ServerID] = snap
	subs := append(([]func(Change))(nil), c.subs...)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(Change{ServerID: u.ServerID, Snapshot: snap})
	}
}

// OnServerRemoved evicts the server's snapshot.
func (c *Cache) OnServerRemoved(serverID string) {
	c.mu.Lock()
	_, had := c.entries[serverID]
	delete(c.entries, serverID)
	delete(c.issued, serverID)
	delete(c.applied, serverID)
	subs := append(([]func(Change))(nil), c.subs...)
	c.mu.Unlock()

	if !had {
		return
	}
	for _, fn := range subs {
		fn(Change{ServerID: serverID, Removed: true})
	}
}

// Get returns the snapshot for serverID.
func (c *Cache) Get(serverID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[serverID]
	return s, ok
}

// All returns every snapshot ordered by server id.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	out := make([]Snapshot, 0, len(c.entries))
	for _, s := range c.entries {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}
