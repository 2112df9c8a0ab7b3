// Package collector gathers a metrics snapshot from a server by running a
// fixed set of read-only shell commands and parsing their output.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/executor"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

// Collection commands. Each prints a single line on success.
const (
	CmdCPU     = "top -bn1 | grep 'Cpu(s)' | awk '{print $2 + $4}'"
	CmdMemory  = "free -m | grep Mem | awk '{print $3,$2}'"
	CmdDisk    = "df -h / | tail -1 | awk '{print $3,$2,$5}'"
	CmdLoad    = "cat /proc/loadavg | awk '{print $1,$2,$3}'"
	CmdUptime  = "uptime -p"
	CmdNetwork = "cat /proc/net/dev | grep -v lo | grep ':' | awk '{print $1, $2, $10}' | head -1"
)

type runner interface {
	Run(ctx context.Context, srv *registry.Server, command string) (*executor.Result, error)
}

// Collector runs the collection commands through an executor.
type Collector struct {
	exec runner
}

func New(exec runner) *Collector {
	return &Collector{exec: exec}
}

// Collect returns whatever commands succeeded. It fails only when the server
// cannot be reached at all, which shows up as an error from the first command.
func (c *Collector) Collect(ctx context.Context, srv *registry.Server) (*wire.Metrics, error) {
	out := func(cmd string) (string, bool, error) {
		res, err := c.exec.Run(ctx, srv, cmd)
		if err != nil {
			return "", false, err
		}
		if res.ExitCode != 0 {
			return "", false, nil
		}
		return strings.TrimSpace(res.Stdout), true, nil
	}

	m := &wire.Metrics{}

	s, ok, err := out(CmdCPU)
	if err != nil {
		return nil, fmt.Errorf("collect metrics from %s: %w", srv.Name, err)
	}
	if ok {
		m.CPUUsage = ParseCPU(s)
	}

	cmds := []struct {
		cmd   string
		apply func(string)
	}{
		{CmdMemory, func(s string) {
			if used, total, ok := ParseMemory(s); ok {
				pct := math.Round(float64(used)/float64(total)*1000) / 10
				m.MemoryUsed, m.MemoryTotal, m.MemoryPercent = &used, &total, &pct
			}
		}},
		{CmdDisk, func(s string) {
			if used, total, pct, ok := ParseDisk(s); ok {
				m.DiskUsed, m.DiskTotal, m.DiskPercent = used, total, pct
			}
		}},
		{CmdLoad, func(s string) { m.LoadAvg = ParseLoad(s) }},
		{CmdUptime, func(s string) { m.Uptime = s }},
		{CmdNetwork, func(s string) {
			if iface, rx, tx, ok := ParseNetwork(s); ok {
				m.Interface, m.NetworkRx, m.NetworkTx = iface, &rx, &tx
			}
		}},
	}
	for _, c := range cmds {
		s, ok, err := out(c.cmd)
		if err != nil {
			slog.Warn("metrics command failed", "server_id", srv.ID, "err", err)
			continue
		}
		if ok && s != "" {
			c.apply(s)
		}
	}
	return m, nil
}

func ParseCPU(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseMemory reads "used total" in megabytes.
func ParseMemory(s string) (used, total int64, ok bool) {
	f := strings.Fields(s)
	if len(f) != 2 {
		return 0, 0, false
	}
	used, err1 := strconv.ParseInt(f[0], 10, 64)
	total, err2 := strconv.ParseInt(f[1], 10, 64)
	if err1 != nil || err2 != nil || total <= 0 {
		return 0, 0, false
	}
	return used, total, true
}

// ParseDisk reads "used total percent" as printed by df -h.
func ParseDisk(s string) (used, total, percent string, ok bool) {
	f := strings.Fields(s)
	if len(f) != 3 {
		return "", "", "", false
	}
	return f[0], f[1], f[2], true
}

func ParseLoad(s string) []float64 {
	f := strings.Fields(s)
	if len(f) != 3 {
		return nil
	}
	load := make([]float64, 0, 3)
	for _, v := range f {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		load = append(load, x)
	}
	return load
}

// ParseNetwork reads "iface: rx tx" from /proc/net/dev. Some kernels print
// the first counter glued to the colon ("eth0:1234").
func ParseNetwork(s string) (iface string, rx, tx int64, ok bool) {
	s = strings.Replace(s, ":", ": ", 1)
	f := strings.Fields(s)
	if len(f) != 3 {
		return "", 0, 0, false
	}
	rx, err1 := strconv.ParseInt(f[1], 10, 64)
	tx, err2 := strconv.ParseInt(f[2], 10, 64)
	if err1 != nil || err2 != nil {
		return "", 0, 0, false
	}
	return strings.TrimSuffix(f[0], ":"), rx, tx, true
}
