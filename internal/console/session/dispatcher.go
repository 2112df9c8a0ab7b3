package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

// PendingExecution is an action that has been sent for execution and has
// not produced a result yet.
type PendingExecution struct {
	ActionID string
	ServerID string
	Command  string
	// Token increases with every dispatch in the session.
	Token uint64
	// EntrySeq is the Seq of the "Executing" note written at dispatch time.
	EntrySeq     uint64
	DispatchedAt time.Time
}

// dispatcher sends execute_action requests and correlates results with
// them. It is owned by a Session and runs under the session lock.
type dispatcher struct {
	tr        transport.Transport
	pending   map[string]PendingExecution
	nextToken uint64
}

func newDispatcher(tr transport.Transport) *dispatcher {
	return &dispatcher{tr: tr, pending: make(map[string]PendingExecution)}
}

// send transmits the request and records it as pending. noteSeq is the
// history entry announcing the execution.
func (d *dispatcher) send(a classify.Action, noteSeq uint64, now time.Time) (PendingExecution, error) {
	d.nextToken++
	p := PendingExecution{
		ActionID:     a.ID,
		ServerID:     a.ServerID,
		Command:      a.Command,
		Token:        d.nextToken,
		EntrySeq:     noteSeq,
		DispatchedAt: now,
	}
	err := d.tr.Send(wire.EventExecuteAction, wire.ExecuteAction{
		ActionID:     a.ID,
		ServerID:     a.ServerID,
		Command:      a.Command,
		RequestToken: p.Token,
	})
	if err != nil {
		return PendingExecution{}, fmt.Errorf("send execute_action: %w", err)
	}
	d.pending[a.ID] = p
	return p, nil
}

// resolve removes and returns the pending execution the result belongs to.
// A result whose token contradicts the recorded one is not accepted.
func (d *dispatcher) resolve(res wire.ActionResult) (PendingExecution, bool) {
	p, ok := d.pending[res.ActionID]
	if !ok {
		return PendingExecution{}, false
	}
	if res.RequestToken != 0 && res.RequestToken != p.Token {
		return PendingExecution{}, false
	}
	delete(d.pending, res.ActionID)
	return p, true
}

// expire removes and returns executions dispatched before cutoff.
func (d *dispatcher) expire(cutoff time.Time) []PendingExecution {
	var out []PendingExecution
	for id, p := range d.pending {
		if p.DispatchedAt.Before(cutoff) {
			out = append(out, p)
			delete(d.pending, id)
		}
	}
	sortByToken(out)
	return out
}

// drain removes and returns every pending execution.
func (d *dispatcher) drain() []PendingExecution {
	out := d.list()
	clear(d.pending)
	return out
}

func (d *dispatcher) list() []PendingExecution {
	out := make([]PendingExecution, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, p)
	}
	sortByToken(out)
	return out
}

func sortByToken(ps []PendingExecution) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Token < ps[j].Token })
}
