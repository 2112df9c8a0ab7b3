// Package operator turns operator text into session operations and session
// changes into output lines. The line console and the Matrix surface both
// drive a Session through it.
package operator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/console/gate"
	"github.com/bdobrica/InfraWhiz/internal/console/metrics"
	"github.com/bdobrica/InfraWhiz/internal/console/session"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

// positiveWords and negativeWords answer a pending confirmation. Only an
// exact match counts, so "stop nginx" is never read as a rejection.
var (
	positiveWords = []string{"yes", "y", "ok", "okay", "confirm", "proceed", "do it", "sure", "yep", "/yes", "/confirm"}
	negativeWords = []string{"no", "n", "cancel", "abort", "nope", "nah", "never mind", "/no", "/reject", "/cancel"}
)

const helpText = `Type a request in plain language, e.g. "check cpu on web-1".
  yes / no            answer the pending confirmation
  /metrics [server]   show cached metrics, or refresh one server
  /servers            list registered servers
  /history            replay the session history
  /pending            list commands awaiting results
  /discard            stop waiting for pending results
  /quit               leave`

// Operator binds a session, the metrics cache and the server directory.
type Operator struct {
	sess  *session.Session
	cache *metrics.Cache
	dir   *Directory
	tr    transport.Transport

	mu       sync.Mutex
	outs     []func(Line)
	prompted string
}

// New wires an Operator. Informational get_metrics actions proposed by the
// backend trigger a metrics refresh, and every session or cache change is
// rendered to the registered outputs.
func New(sess *session.Session, cache *metrics.Cache, dir *Directory, tr transport.Transport) *Operator {
	o := &Operator{sess: sess, cache: cache, dir: dir, tr: tr}
	sess.Subscribe(o.onDiff)
	cache.Subscribe(o.onMetrics)
	tr.OnStateChange(func(s transport.State) {
		if s == transport.Open {
			if err := dir.Refresh(); err != nil {
				slog.Debug("operator: server list refresh failed", "err", err)
			}
		}
		o.emit(Line{Text: "• channel " + s.String(), Style: StyleNote})
	})
	return o
}

// Output registers fn to receive rendered lines.
func (o *Operator) Output(fn func(Line)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outs = append(o.outs, fn)
}

func (o *Operator) emit(lines ...Line) {
	o.mu.Lock()
	outs := append(([]func(Line))(nil), o.outs...)
	o.mu.Unlock()
	for _, l := range lines {
		for _, fn := range outs {
			fn(l)
		}
	}
}

func (o *Operator) onDiff(d session.Diff) {
	for _, e := range d.Appended {
		o.emit(o.RenderEntry(e)...)
		if ai, ok := e.Body.(session.AIMessage); ok {
			o.refreshFor(ai.Actions)
		}
	}
	awaiting := ""
	if d.Awaiting != nil {
		awaiting = d.Awaiting.ID
	}
	o.mu.Lock()
	fresh := awaiting != "" && awaiting != o.prompted
	o.prompted = awaiting
	o.mu.Unlock()
	if fresh {
		o.emit(o.RenderPrompt(*d.Awaiting, d.Queued))
	}
}

func (o *Operator) refreshFor(actions []classify.Action) {
	for _, a := range actions {
		if a.Kind != classify.Informational || a.ServerID == "" {
			continue
		}
		if !strings.EqualFold(a.Type, wire.ActionGetMetrics) {
			continue
		}
		if err := o.cache.RequestRefresh(a.ServerID); err != nil {
			slog.Warn("operator: metrics refresh failed", "server_id", a.ServerID, "err", err)
		}
	}
}

func (o *Operator) onMetrics(ch metrics.Change) {
	if ch.Removed {
		o.emit(Line{Text: "• server " + ch.ServerID + " removed", Style: StyleNote})
		return
	}
	o.emit(o.RenderSnapshot(ch.Snapshot))
}

// Handle interprets one line of operator input. It returns true when the
// operator asked to quit. Immediate feedback that is not part of the session
// history is emitted to the outputs.
func (o *Operator) Handle(line string) (quit bool) {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)

	if o.sess.GateState() == gate.AwaitingDecision {
		switch {
		case matches(lower, positiveWords):
			o.report(o.sess.Confirm())
			return false
		case matches(lower, negativeWords):
			o.report(o.sess.Reject())
			return false
		}
	}

	if strings.HasPrefix(text, "/") {
		return o.command(text)
	}
	o.report(o.sess.Submit(text))
	return false
}

func (o *Operator) command(text string) bool {
	fields := strings.Fields(text)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		return true
	case "/help":
		o.emit(Line{Text: helpText})
	case "/yes", "/confirm":
		o.report(o.sess.Confirm())
	case "/no", "/reject", "/cancel":
		o.report(o.sess.Reject())
	case "/metrics":
		o.metricsCommand(fields[1:])
	case "/servers":
		o.serversCommand()
	case "/history":
		for _, e := range o.sess.Entries() {
			o.emit(o.RenderEntry(e)...)
		}
	case "/pending":
		pending := o.sess.Pending()
		if len(pending) == 0 {
			o.emit(Line{Text: "Nothing is awaiting a result.", Style: StyleNote})
		}
		for _, p := range pending {
			o.emit(Line{Text: fmt.Sprintf("  %s on %s (since %s)", p.Command, o.dir.Name(p.ServerID), p.DispatchedAt.Format("15:04:05")), Style: StyleNote})
		}
	case "/discard":
		n := o.sess.DiscardPending()
		o.emit(Line{Text: fmt.Sprintf("Discarded %d pending command(s).", n), Style: StyleNote})
	default:
		o.emit(Line{Text: "Unknown command " + fields[0] + ". Try /help.", Style: StyleFailure})
	}
	return false
}

func (o *Operator) metricsCommand(args []string) {
	if len(args) == 0 {
		snaps := o.cache.All()
		if len(snaps) == 0 {
			o.emit(Line{Text: "No metrics yet. Use /metrics <server>.", Style: StyleNote})
		}
		for _, s := range snaps {
			o.emit(o.RenderSnapshot(s))
		}
		return
	}
	ref := strings.Join(args, " ")
	id := ref
	if s, ok := o.dir.Resolve(ref); ok {
		id = s.ID
	}
	if err := o.cache.RequestRefresh(id); err != nil {
		o.report(err)
		return
	}
	o.emit(Line{Text: "Requested metrics for " + o.dir.Name(id) + ".", Style: StyleNote})
}

func (o *Operator) serversCommand() {
	if err := o.dir.Refresh(); err != nil {
		slog.Debug("operator: server list refresh failed", "err", err)
	}
	servers := o.dir.List()
	if len(servers) == 0 {
		o.emit(Line{Text: "No servers known yet.", Style: StyleNote})
		return
	}
	for _, s := range servers {
		o.emit(Line{Text: fmt.Sprintf("  %-16s %s@%s:%d  [%s]  %s", s.Name, s.Username, s.Hostname, s.Port, s.AuthMethod, s.ID)})
	}
}

// report emits feedback for an operation error. Transport failures are
// already recorded in the history by the session.
func (o *Operator) report(err error) {
	if err == nil {
		return
	}
	var msg string
	switch {
	case errors.Is(err, session.ErrInFlight):
		msg = "Still waiting for the assistant's reply."
	case errors.Is(err, session.ErrEmptySubmission):
		return
	case errors.Is(err, gate.ErrNothingPending):
		msg = "Nothing is awaiting confirmation."
	case errors.Is(err, transport.ErrNotConnected):
		msg = "Not connected to the backend."
	default:
		msg = err.Error()
	}
	o.emit(Line{Text: msg, Style: StyleFailure})
}

func matches(lower string, words []string) bool {
	for _, w := range words {
		if lower == w {
			return true
		}
	}
	return false
}
