// Package gate holds destructive actions until the operator decides on them.
//
// Exactly one action awaits a decision at a time. Further confirmable actions
// wait in FIFO order and are surfaced one by one as earlier ones are
// resolved; none is ever dropped.
//
// A Gate is not safe for concurrent use. The session that owns it serialises
// access.
package gate

import (
	"errors"

	"github.com/bdobrica/InfraWhiz/internal/console/classify"
)

// State of the gate.
type State int

const (
	Empty State = iota
	AwaitingDecision
)

func (s State) String() string {
	if s == AwaitingDecision {
		return "awaiting_decision"
	}
	return "empty"
}

// Status is the outcome recorded for a resolved action.
type Status string

const (
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// ErrNothingPending is returned by Confirm and Reject on an empty gate.
var ErrNothingPending = errors.New("gate: no action awaiting a decision")

// Decision describes one resolved action and what the gate surfaced next.
type Decision struct {
	Action classify.Action
	Status Status
	// Next is the action now awaiting a decision, if any.
	Next *classify.Action
}

// Gate is the single-slot confirmation holder with its waiting queue.
type Gate struct {
	current *classify.Action
	queue   []classify.Action
}

func New() *Gate { return &Gate{} }

// Offer hands a confirmable action to the gate. It reports whether the
// action was surfaced immediately (true) or queued behind another (false).
func (g *Gate) Offer(a classify.Action) bool {
	if g.current == nil {
		g.current = &a
		return true
	}
	g.queue = append(g.queue, a)
	return false
}

// Confirm approves the awaiting action.
func (g *Gate) Confirm() (Decision, error) { return g.resolve(StatusApproved) }

// Reject denies the awaiting action.
func (g *Gate) Reject() (Decision, error) { return g.resolve(StatusDenied) }

func (g *Gate) resolve(status Status) (Decision, error) {
	if g.current == nil {
		return Decision{}, ErrNothingPending
	}
	d := Decision{Action: *g.current, Status: status}
	g.current = nil
	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.current = &next
		d.Next = &next
	}
	return d, nil
}

// State reports whether an action is awaiting a decision.
func (g *Gate) State() State {
	if g.current != nil {
		return AwaitingDecision
	}
	return Empty
}

// Current returns the action awaiting a decision.
func (g *Gate) Current() (classify.Action, bool) {
	if g.current == nil {
		return classify.Action{}, false
	}
	return *g.current, true
}

// Queued returns the number of actions waiting behind the current one.
func (g *Gate) Queued() int { return len(g.queue) }

// Pending returns the current action followed by the queue, in the order
// they will be surfaced.
func (g *Gate) Pending() []classify.Action {
	if g.current == nil {
		return nil
	}
	out := make([]classify.Action, 0, 1+len(g.queue))
	out = append(out, *g.current)
	return append(out, g.queue...)
}
