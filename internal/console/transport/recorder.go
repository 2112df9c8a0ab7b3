package transport

import (
	"encoding/json"
	"sync"
)

// Sent is one event captured by a Recorder.
type Sent struct {
	Event   string
	Payload json.RawMessage
}

// Recorder is an in-memory Transport. It records outbound events and lets a
// caller inject inbound events and state changes. It starts Open.
type Recorder struct {
	mu        sync.Mutex
	state     State
	sent      []Sent
	handlers  map[string][]Handler
	stateSubs []func(State)

	// SendErr, when set, is returned by Send instead of recording.
	SendErr error
}

var _ Transport = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{state: Open, handlers: make(map[string][]Handler)}
}

// Send implements Transport.
func (r *Recorder) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	if r.state != Open {
		return ErrNotConnected
	}
	r.sent = append(r.sent, Sent{Event: event, Payload: data})
	return nil
}

// On implements Transport.
func (r *Recorder) On(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], h)
}

// State implements Transport.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnStateChange implements Transport.
func (r *Recorder) OnStateChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateSubs = append(r.stateSubs, fn)
}

// Deliver simulates an inbound event. Handlers run on the caller's goroutine.
func (r *Recorder) Deliver(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.DeliverRaw(event, data)
	return nil
}

// DeliverRaw simulates an inbound event with a pre-encoded payload.
func (r *Recorder) DeliverRaw(event string, data []byte) {
	r.mu.Lock()
	hs := append([]Handler(nil), r.handlers[event]...)
	r.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(data))
	}
}

// SetState simulates a connection state transition.
func (r *Recorder) SetState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	subs := append(([]func(State))(nil), r.stateSubs...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Sent returns a copy of every recorded event.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentEvents returns the recorded events with the given name.
func (r *Recorder) SentEvents(event string) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
