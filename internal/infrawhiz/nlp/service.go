package nlp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bdobrica/InfraWhiz/common/wire"
)

// Service answers user messages. It prefers the primary parser and falls
// back to the secondary one when the primary fails for a transient reason.
type Service struct {
	primary   Parser
	secondary Parser
	limiter   *RateLimiter
}

// NewService returns a Service. secondary and limiter may be nil.
func NewService(primary, secondary Parser, limiter *RateLimiter) *Service {
	return &Service{primary: primary, secondary: secondary, limiter: limiter}
}

// Respond always produces a response; failures become an operator-facing
// message with no actions. connID keys the rate limit.
func (s *Service) Respond(ctx context.Context, connID string, msg wire.UserMessage, servers []wire.ServerInfo) *wire.AIResponse {
	reply := func(text string) *wire.AIResponse {
		return &wire.AIResponse{Message: text, Actions: []wire.RawAction{}, RequestID: msg.RequestID}
	}
	if s.limiter != nil && !s.limiter.Allow(connID) {
		return reply("You're sending requests too quickly. Please wait a minute and try again.")
	}

	req := Request{Text: msg.Text, Servers: servers}
	resp, err := s.primary.Parse(ctx, req)
	if err != nil && s.secondary != nil && IsTransient(err) {
		slog.Warn("nlp: primary parser failed, using fallback", "err", err)
		resp, err = s.secondary.Parse(ctx, req)
	}
	switch {
	case errors.Is(err, ErrRateLimit):
		return reply("The language model is rate limited right now. Please try again shortly.")
	case errors.Is(err, ErrMalformedOutput):
		return reply("I couldn't understand that. Could you rephrase it?")
	case err != nil:
		slog.Error("nlp: parse failed", "err", err)
		return reply("I encountered an error processing your request.")
	}
	resp.RequestID = msg.RequestID
	if resp.Actions == nil {
		resp.Actions = []wire.RawAction{}
	}
	return resp
}
