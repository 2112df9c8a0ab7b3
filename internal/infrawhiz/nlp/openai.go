package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/InfraWhiz/common/wire"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible parser.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the endpoint for local or self-hosted models.
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI asks an OpenAI-compatible chat completions API, in JSON mode, to
// propose actions.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	policy Policy
}

// NewOpenAI returns an LLM-backed parser. policy upgrades proposed
// "execute" actions to "confirm" when the command is destructive; the
// model's own judgement is never trusted for that.
func NewOpenAI(cfg OpenAIConfig, policy Policy) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, policy: policy}
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    float64      `json:"temperature"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// llmAnswer is the JSON object the model is told to produce.
type llmAnswer struct {
	Message string `json:"message"`
	Intent  struct {
		Intent       string `json:"intent"`
		TargetServer string `json:"targetServer"`
		Action       string `json:"action"`
	} `json:"intent"`
	Actions []struct {
		Type     string `json:"type"`
		ServerID string `json:"serverId"`
		Command  string `json:"command"`
	} `json:"actions"`
}

const systemPrompt = `You are InfraWhiz, an assistant for Linux server administration.
Translate the operator's request into a JSON object. You never run anything
yourself; you only propose actions.

Registered servers (id, name, hostname):
%s

Respond ONLY with JSON of this shape:
{
  "message": "<one or two sentences telling the operator what you propose>",
  "intent":  {"intent": "metrics" | "command" | "unknown", "targetServer": "<name or all>", "action": "<metric or command>"},
  "actions": [{"type": "get_metrics" | "execute" | "confirm" | "info", "serverId": "<id from the list>", "command": "<shell command>"}]
}

Rules:
1. Use only server ids from the list. For "all servers" emit one action per server.
2. Use "confirm" for anything that deletes data, stops or restarts services, kills
   processes, reboots, or changes disks. Use "execute" only for read-only commands.
3. Use "get_metrics" (no command) for CPU, memory, disk, load, uptime or network questions.
4. If the request is unclear, return no actions and ask a clarifying question in "message".
5. Never include passwords, keys, or tokens.`

// Parse implements Parser.
func (o *OpenAI) Parse(ctx context.Context, req Request) (*wire.AIResponse, error) {
	var catalogue strings.Builder
	for _, s := range req.Servers {
		fmt.Fprintf(&catalogue, "- %s, %s, %s\n", s.ID, s.Name, s.Hostname)
	}
	if catalogue.Len() == 0 {
		catalogue.WriteString("(none registered)\n")
	}

	body, err := json.Marshal(oaiRequest{
		Model: o.cfg.Model,
		Messages: []oaiMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, catalogue.String())},
			{Role: "user", Content: req.Text},
		},
		MaxTokens:      800,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nlp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("nlp: read response body: %w", err)
	}

	var oai oaiResponse
	if err := json.Unmarshal(raw, &oai); err != nil {
		return nil, fmt.Errorf("nlp: decode API response (HTTP %d): %w", resp.StatusCode, err)
	}
	if oai.Error != nil {
		return nil, fmt.Errorf("nlp: API error (%s): %s", oai.Error.Type, oai.Error.Message)
	}
	if len(oai.Choices) == 0 {
		return nil, fmt.Errorf("nlp: no choices returned (HTTP %d)", resp.StatusCode)
	}

	var ans llmAnswer
	content := oai.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &ans); err != nil {
		return nil, fmt.Errorf("%w: %v (raw content: %.200s)", ErrMalformedOutput, err, content)
	}
	return o.sanitize(&ans, req.Servers)
}

// sanitize drops actions against unknown servers, maps server names to ids,
// and forces destructive commands to "confirm".
func (o *OpenAI) sanitize(ans *llmAnswer, servers []wire.ServerInfo) (*wire.AIResponse, error) {
	if strings.TrimSpace(ans.Message) == "" && len(ans.Actions) == 0 {
		return nil, ErrMalformedOutput
	}
	out := &wire.AIResponse{Message: ans.Message, Actions: []wire.RawAction{}}
	if ans.Intent.Intent != "" {
		out.Intent = &wire.Intent{Intent: ans.Intent.Intent, TargetServer: ans.Intent.TargetServer, Action: ans.Intent.Action}
	}

	var dropped []string
	for _, a := range ans.Actions {
		srv := findServer(servers, a.ServerID)
		if srv == nil {
			dropped = append(dropped, a.ServerID)
			continue
		}
		act := wire.RawAction{Type: strings.ToLower(strings.TrimSpace(a.Type)), ServerID: srv.ID, Command: strings.TrimSpace(a.Command)}
		if act.Type == wire.ActionExecute && o.policy != nil {
			if destructive, _ := o.policy.Destructive(act.Command); destructive {
				act.Type = wire.ActionConfirm
			}
		}
		out.Actions = append(out.Actions, act)
	}
	if len(dropped) > 0 {
		out.Message = strings.TrimSpace(out.Message + fmt.Sprintf(" (Ignored actions for unknown servers: %s.)", strings.Join(dropped, ", ")))
	}
	return out, nil
}

// IsTransient reports whether err is worth falling back on another parser
// rather than surfacing to the operator.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrRateLimit)
}
