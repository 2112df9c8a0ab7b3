package session

import (
	"time"

	"github.com/bdobrica/InfraWhiz/internal/console/classify"
)

// Entry is one immutable record in the session history. Seq starts at 1 and
// increases by one per entry.
type Entry struct {
	Seq  uint64
	At   time.Time
	Body Body
}

// Body is the payload of an Entry: UserInput, ParsedIntent, AIMessage,
// ExecutionResult or SystemNote.
type Body interface {
	isBody()
}

// UserInput is a submission typed by the operator.
type UserInput struct {
	Text string
}

// ParsedIntent is the backend parser's structured reading of a submission.
type ParsedIntent struct {
	Intent       string
	TargetServer string
	Action       string
}

// AIMessage is the assistant's reply together with its classified actions.
type AIMessage struct {
	Text    string
	Actions []classify.Action
}

// ExecutionResult is the outcome of one dispatched action. Error is set when
// the backend could not run the command at all.
type ExecutionResult struct {
	ActionID string
	ServerID string
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Error    string
}

// Failed reports whether the command did not complete successfully.
func (r ExecutionResult) Failed() bool { return r.Error != "" || r.ExitCode != 0 }

// SystemNote is a message from the console itself.
type SystemNote struct {
	Text string
}

func (UserInput) isBody()       {}
func (ParsedIntent) isBody()    {}
func (AIMessage) isBody()       {}
func (ExecutionResult) isBody() {}
func (SystemNote) isBody()      {}

// Diff describes what one operation changed. Observers receive Diffs in the
// order the operations happened.
type Diff struct {
	Appended []Entry
	InFlight bool
	// Awaiting is the action the operator must decide on, if any.
	Awaiting *classify.Action
	// Queued counts confirmable actions waiting behind Awaiting.
	Queued int
	// Pending counts dispatched actions still awaiting a result.
	Pending int
}
