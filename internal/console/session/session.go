// Package session is the operator console's command session: the ordered
// history of one conversation with the backend, the single in-flight
// submission, and the execution of the actions the backend proposes.
//
// Every operation, whether called by a surface or triggered by an inbound
// event, runs to completion under one lock, so the history is only ever
// observed in a consistent state. Observers are notified after the lock is
// released and may call back into the session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/InfraWhiz/common/trace"
	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/console/gate"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

var (
	// ErrEmptySubmission is returned by Submit for blank text.
	ErrEmptySubmission = errors.New("session: submission is empty")
	// ErrInFlight is returned by Submit while a submission awaits its reply.
	ErrInFlight = errors.New("session: a submission is already awaiting a reply")
)

// Config wires a Session.
type Config struct {
	Transport transport.Transport
	// Classifier defaults to classify.New(nil).
	Classifier *classify.Classifier
	// ID prefixes action ids. Generated when empty.
	ID string
	// SubmitTimeout bounds the wait for an ai_response; zero disables it.
	SubmitTimeout time.Duration
	// ExecutionTimeout bounds the wait for an action_result; zero disables it.
	ExecutionTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type submission struct {
	requestID string
	at        time.Time
}

// Session is safe for concurrent use.
type Session struct {
	id               string
	tr               transport.Transport
	classifier       *classify.Classifier
	submitTimeout    time.Duration
	executionTimeout time.Duration
	now              func() time.Time

	mu         sync.Mutex
	entries    []Entry
	inFlight   *submission
	gate       *gate.Gate
	disp       *dispatcher
	nextAction uint64
	connState  transport.State

	observers []func(Diff)
	outbox    []Diff
	flushing  bool
}

// New creates a session and subscribes it to the transport's ai_response and
// action_result events and to its connection state.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New(nil)
	}
	if cfg.ID == "" {
		cfg.ID = trace.GenerateID("ses")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Session{
		id:               cfg.ID,
		tr:               cfg.Transport,
		classifier:       cfg.Classifier,
		submitTimeout:    cfg.SubmitTimeout,
		executionTimeout: cfg.ExecutionTimeout,
		now:              cfg.Now,
		gate:             gate.New(),
		disp:             newDispatcher(cfg.Transport),
		connState:        cfg.Transport.State(),
	}

	s.tr.On(wire.EventAIResponse, func(p json.RawMessage) {
		var resp wire.AIResponse
		if err := wire.Decode(wire.EventAIResponse, p, &resp); err != nil {
			slog.Warn("session: dropping ai_response", "err", err)
			return
		}
		s.OnAIResponse(resp)
	})
	s.tr.On(wire.EventActionResult, func(p json.RawMessage) {
		var res wire.ActionResult
		if err := wire.Decode(wire.EventActionResult, p, &res); err != nil {
			slog.Warn("session: dropping action_result", "err", err)
			return
		}
		s.OnActionResult(res)
	})
	s.tr.OnStateChange(s.onStateChange)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Subscribe registers fn to receive every subsequent Diff.
func (s *Session) Subscribe(fn func(Diff)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Submit appends the operator's text to the history and sends it to the
// backend. Blank text and a second submission while one is in flight are
// rejected without touching the history. A send failure is recorded as a
// SystemNote and leaves the session ready for another submission.
func (s *Session) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySubmission
	}

	s.mu.Lock()
	if s.inFlight != nil {
		s.mu.Unlock()
		return ErrInFlight
	}
	mark := len(s.entries)
	now := s.now()
	s.appendLocked(UserInput{Text: text}, now)

	reqID := trace.GenerateID("req")
	if err := s.tr.Send(wire.EventUserMessage, wire.UserMessage{Text: text, RequestID: reqID}); err != nil {
		slog.Warn("session: submit failed", "session", s.id, "err", err)
		s.appendLocked(SystemNote{Text: "Message not sent: " + describeSendError(err)}, now)
	} else {
		s.inFlight = &submission{requestID: reqID, at: now}
	}
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
	return nil
}

// OnAIResponse records the backend's reply and acts on its proposals:
// executable actions are dispatched, confirmable ones go to the gate, and
// informational ones are only recorded. A reply that names a request other
// than the one in flight is stale and discarded.
func (s *Session) OnAIResponse(resp wire.AIResponse) {
	s.mu.Lock()
	if resp.RequestID != "" && (s.inFlight == nil || s.inFlight.requestID != resp.RequestID) {
		s.mu.Unlock()
		slog.Debug("session: discarding stale ai_response", "session", s.id, "request_id", resp.RequestID)
		return
	}

	mark := len(s.entries)
	now := s.now()
	s.inFlight = nil

	if resp.Intent != nil && resp.Intent.Intent != "" {
		s.appendLocked(ParsedIntent{
			Intent:       resp.Intent.Intent,
			TargetServer: resp.Intent.TargetServer,
			Action:       resp.Intent.Action,
		}, now)
	}

	actions := make([]classify.Action, 0, len(resp.Actions))
	for _, raw := range resp.Actions {
		a := s.classifier.Classify(raw)
		s.nextAction++
		a.ID = fmt.Sprintf("%s.%d", s.id, s.nextAction)
		actions = append(actions, a)
	}
	s.appendLocked(AIMessage{Text: resp.Message, Actions: actions}, now)

	for _, a := range actions {
		switch a.Kind {
		case classify.Executable:
			s.dispatchLocked(a, now)
		case classify.Confirmable:
			s.gate.Offer(a)
		}
	}
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
}

// Confirm approves the action awaiting a decision and dispatches it.
func (s *Session) Confirm() error {
	s.mu.Lock()
	d, err := s.gate.Confirm()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	mark := len(s.entries)
	s.dispatchLocked(d.Action, s.now())
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
	return nil
}

// Reject denies the action awaiting a decision. Nothing is sent.
func (s *Session) Reject() error {
	s.mu.Lock()
	d, err := s.gate.Reject()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	mark := len(s.entries)
	s.appendLocked(SystemNote{Text: "Cancelled: " + d.Action.Command}, s.now())
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
	return nil
}

// OnActionResult records the result of a dispatched action. Results for
// unknown or already-resolved actions are discarded.
func (s *Session) OnActionResult(res wire.ActionResult) {
	s.mu.Lock()
	p, ok := s.disp.resolve(res)
	if !ok {
		s.mu.Unlock()
		slog.Debug("session: discarding result for unknown action",
			"session", s.id, "action_id", res.ActionID, "server_id", res.ServerID)
		return
	}
	mark := len(s.entries)
	s.appendLocked(ExecutionResult{
		ActionID: p.ActionID,
		ServerID: p.ServerID,
		Command:  p.Command,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Error:    res.Error,
	}, s.now())
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
}

// OnConnectionLost abandons the in-flight submission, if any, and tells the
// operator to resubmit. Pending executions stay pending; their results may
// still arrive after a reconnect.
func (s *Session) OnConnectionLost() {
	s.mu.Lock()
	mark := len(s.entries)
	s.abandonSubmissionLocked("Connection lost before the assistant replied. Please resubmit.")
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
}

// Expire applies the configured timeouts as of now: an overdue submission is
// abandoned like a lost connection, and overdue executions are discarded.
func (s *Session) Expire(now time.Time) {
	s.mu.Lock()
	mark := len(s.entries)
	if s.submitTimeout > 0 && s.inFlight != nil && now.Sub(s.inFlight.at) >= s.submitTimeout {
		s.abandonSubmissionLocked(fmt.Sprintf("No reply from the assistant within %s. Please resubmit.", s.submitTimeout))
	}
	if s.executionTimeout > 0 {
		for _, p := range s.disp.expire(now.Add(-s.executionTimeout)) {
			slog.Warn("session: execution timed out", "session", s.id, "action_id", p.ActionID, "server_id", p.ServerID)
			s.appendLocked(SystemNote{Text: fmt.Sprintf("No result for %q within %s. Giving up on it.", p.Command, s.executionTimeout)}, now)
		}
	}
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
}

// DiscardPending gives up on every pending execution and returns how many
// were discarded. Results that arrive later are ignored.
func (s *Session) DiscardPending() int {
	s.mu.Lock()
	mark := len(s.entries)
	dropped := s.disp.drain()
	now := s.now()
	for _, p := range dropped {
		s.appendLocked(SystemNote{Text: fmt.Sprintf("Stopped waiting for %q.", p.Command)}, now)
	}
	s.emitLocked(mark)
	s.mu.Unlock()

	s.flush()
	return len(dropped)
}

// Entries returns a copy of the history.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// InFlight reports whether a submission awaits its reply.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != nil
}

// Awaiting returns the action the operator must decide on.
func (s *Session) Awaiting() (classify.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Current()
}

// GateState returns the confirmation gate's state.
func (s *Session) GateState() gate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.State()
}

// Pending returns the dispatched actions awaiting results, oldest first.
func (s *Session) Pending() []PendingExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disp.list()
}

// RunExpiry calls Expire every interval until ctx is done.
func (s *Session) RunExpiry(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Expire(s.now())
		}
	}
}

func (s *Session) onStateChange(st transport.State) {
	s.mu.Lock()
	prev := s.connState
	s.connState = st
	s.mu.Unlock()
	if prev == transport.Open && st != transport.Open {
		s.OnConnectionLost()
	}
}

func (s *Session) abandonSubmissionLocked(note string) {
	if s.inFlight == nil {
		return
	}
	s.inFlight = nil
	s.appendLocked(SystemNote{Text: note}, s.now())
}

// dispatchLocked announces and sends one action.
func (s *Session) dispatchLocked(a classify.Action, now time.Time) {
	if a.ServerID == "" {
		s.appendLocked(SystemNote{Text: fmt.Sprintf("Skipped %q: no target server.", a.Command)}, now)
		return
	}
	note := s.appendLocked(SystemNote{Text: "Executing: " + a.Command}, now)
	if _, err := s.disp.send(a, note.Seq, now); err != nil {
		slog.Warn("session: dispatch failed", "session", s.id, "action_id", a.ID, "err", err)
		s.appendLocked(SystemNote{Text: fmt.Sprintf("Could not send %q: %s", a.Command, describeSendError(err))}, now)
	}
}

func (s *Session) appendLocked(b Body, at time.Time) Entry {
	e := Entry{Seq: uint64(len(s.entries)) + 1, At: at, Body: b}
	s.entries = append(s.entries, e)
	return e
}

// emitLocked queues a Diff covering entries appended since mark.
func (s *Session) emitLocked(mark int) {
	d := Diff{
		Appended: append([]Entry(nil), s.entries[mark:]...),
		InFlight: s.inFlight != nil,
		Queued:   s.gate.Queued(),
		Pending:  len(s.disp.pending),
	}
	if a, ok := s.gate.Current(); ok {
		d.Awaiting = &a
	}
	s.outbox = append(s.outbox, d)
}

// flush delivers queued Diffs in order. Only one goroutine delivers at a
// time; Diffs queued by re-entrant calls are picked up by the loop.
func (s *Session) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		observers := append(([]func(Diff))(nil), s.observers...)
		s.mu.Unlock()
		for _, d := range batch {
			for _, fn := range observers {
				fn(d)
			}
		}
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, transport.ErrNotConnected):
		return "not connected to the backend"
	case errors.Is(err, transport.ErrBackpressure):
		return "the connection is busy, try again"
	default:
		return err.Error()
	}
}
