package operator

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

// Directory mirrors the backend's server registry so operators can refer to
// servers by name.
type Directory struct {
	tr transport.Transport

	mu      sync.RWMutex
	servers map[string]wire.ServerInfo
}

// NewDirectory subscribes to server_list and server_removed.
func NewDirectory(tr transport.Transport) *Directory {
	d := &Directory{tr: tr, servers: make(map[string]wire.ServerInfo)}
	tr.On(wire.EventServerList, func(p json.RawMessage) {
		var l wire.ServerList
		if err := wire.Decode(wire.EventServerList, p, &l); err != nil {
			slog.Warn("operator: dropping server_list", "err", err)
			return
		}
		d.replace(l.Servers)
	})
	tr.On(wire.EventServerRemoved, func(p json.RawMessage) {
		var r wire.ServerRemoved
		if err := wire.Decode(wire.EventServerRemoved, p, &r); err != nil {
			return
		}
		d.mu.Lock()
		delete(d.servers, r.ServerID)
		d.mu.Unlock()
	})
	return d
}

// Refresh asks the backend for the current registry.
func (d *Directory) Refresh() error {
	return d.tr.Send(wire.EventListServers, wire.ListServers{})
}

func (d *Directory) replace(list []wire.ServerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.servers = make(map[string]wire.ServerInfo, len(list))
	for _, s := range list {
		d.servers[s.ID] = s
	}
}

// Resolve maps an id or a case-insensitive name to a server.
func (d *Directory) Resolve(ref string) (wire.ServerInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.servers[ref]; ok {
		return s, true
	}
	for _, s := range d.servers {
		if strings.EqualFold(s.Name, ref) {
			return s, true
		}
	}
	return wire.ServerInfo{}, false
}

// Name returns the display name for a server id, or the id itself.
func (d *Directory) Name(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.servers[id]; ok && s.Name != "" {
		return s.Name
	}
	return id
}

// List returns the known servers sorted by name.
func (d *Directory) List() []wire.ServerInfo {
	d.mu.RLock()
	out := make([]wire.ServerInfo, 0, len(d.servers))
	for _, s := range d.servers {
		out = append(out, s)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
