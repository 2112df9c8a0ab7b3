// Package wire defines the channel protocol spoken between the operator
// console and the InfraWhiz backend.
//
// Every WebSocket text message carries one Frame: an event name, a JSON
// payload, and the sender's timestamp. Payload shapes live in payloads.go;
// inbound payloads are checked against a JSON schema before they are decoded
// (see Decode).
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names. The first six form the command/action protocol; the rest are
// housekeeping events.
const (
	EventUserMessage   = "user_message"
	EventAIResponse    = "ai_response"
	EventExecuteAction = "execute_action"
	EventActionResult  = "action_result"
	EventGetMetrics    = "get_metrics"
	EventMetricsUpdate = "metrics_update"

	EventListServers   = "list_servers"
	EventServerList    = "server_list"
	EventServerRemoved = "server_removed"
	EventError         = "error"
)

// ErrInvalidPayload is wrapped by every frame or payload validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// Frame is the unit of transmission on the channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	TS    time.Time       `json:"ts"`
}

// Encode marshals payload into a frame for event.
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: event name must not be empty", ErrInvalidPayload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data, TS: time.Now().UTC()})
}

// ParseFrame decodes one channel message. The payload is left raw; use
// Decode to validate and unmarshal it.
func ParseFrame(msg []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil, fmt.Errorf("%w: frame: %v", ErrInvalidPayload, err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: frame has no event name", ErrInvalidPayload)
	}
	if len(f.Data) == 0 {
		f.Data = json.RawMessage("{}")
	}
	return &f, nil
}
