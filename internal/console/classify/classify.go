// Package classify decides what the console may do with each action the
// backend proposes: show it, ask the operator first, or run it.
//
// The rule that matters most: a command the Policy considers destructive is
// never Executable, whatever type tag the backend put on it.
package classify

import (
	"strings"

	"github.com/bdobrica/InfraWhiz/common/wire"
)

// Kind is the classification of one action.
type Kind int

const (
	// Informational actions are displayed and never executed.
	Informational Kind = iota
	// Confirmable actions run only after explicit operator approval.
	Confirmable
	// Executable actions are dispatched immediately.
	Executable
)

func (k Kind) String() string {
	switch k {
	case Confirmable:
		return "confirmable"
	case Executable:
		return "executable"
	default:
		return "informational"
	}
}

// Action is a classified action as the console tracks it.
type Action struct {
	// ID is assigned by the session when the action is classified.
	ID       string
	Kind     Kind
	Type     string
	ServerID string
	Command  string
	// Reasons lists why a command was judged destructive, if it was.
	Reasons []string
}

// Policy judges whether a command needs operator approval.
type Policy interface {
	// Destructive reports whether command may change or damage the target,
	// with human-readable reasons when it does.
	Destructive(command string) (bool, []string)
}

// Classifier maps raw actions to Kinds.
type Classifier struct {
	policy Policy
	// unknown is the Kind for type tags other than info/confirm/execute
	// when the command is not destructive.
	unknown Kind
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithUnknownTypes sets how unrecognised type tags with a command are
// treated. Only Executable and Confirmable are meaningful.
func WithUnknownTypes(k Kind) Option {
	return func(c *Classifier) {
		if k == Confirmable || k == Executable {
			c.unknown = k
		}
	}
}

// New returns a Classifier. A nil policy means DefaultPolicy.
func New(policy Policy, opts ...Option) *Classifier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	c := &Classifier{policy: policy, unknown: Executable}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify returns the classified form of raw. The ID is left empty.
func (c *Classifier) Classify(raw wire.RawAction) Action {
	a := Action{
		Type:     raw.Type,
		ServerID: raw.ServerID,
		Command:  strings.TrimSpace(raw.Command),
	}
	a.Kind, a.Reasons = c.kind(strings.ToLower(strings.TrimSpace(raw.Type)), a.Command)
	return a
}

func (c *Classifier) kind(typ, command string) (Kind, []string) {
	if command == "" || typ == wire.ActionInfo {
		return Informational, nil
	}
	destructive, reasons := c.policy.Destructive(command)
	switch {
	case typ == wire.ActionConfirm:
		if len(reasons) == 0 {
			reasons = []string{"flagged for confirmation by the assistant"}
		}
		return Confirmable, reasons
	case destructive:
		return Confirmable, reasons
	case typ == wire.ActionExecute:
		return Executable, nil
	default:
		return c.unknown, nil
	}
}
