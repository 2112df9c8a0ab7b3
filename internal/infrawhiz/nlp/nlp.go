// Package nlp turns an operator's free-text request into an ai_response:
// a human-readable message plus proposed actions against registered servers.
//
// Parsers only propose. Whether an action runs, and whether it needs the
// operator's confirmation first, is decided by the console. Parsers still
// mark commands they consider destructive as "confirm" so older consoles
// stay safe.
package nlp

import (
	"context"
	"errors"

	"github.com/bdobrica/InfraWhiz/common/wire"
)

// ErrRateLimit is returned when the upstream LLM API reports rate limiting.
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the LLM answer cannot be interpreted.
var ErrMalformedOutput = errors.New("nlp: malformed response from LLM")

// Request is one parse call.
type Request struct {
	Text string
	// Servers is the current registry contents, used to resolve names.
	Servers []wire.ServerInfo
}

// Parser proposes actions for a request. The returned response never has a
// RequestID; the caller stamps it.
type Parser interface {
	Parse(ctx context.Context, req Request) (*wire.AIResponse, error)
}

// Policy reports whether a command is destructive.
type Policy interface {
	Destructive(command string) (bool, []string)
}

// Intents produced by the parsers.
const (
	IntentMetrics = "metrics"
	IntentCommand = "command"
	IntentUnknown = "unknown"
)
