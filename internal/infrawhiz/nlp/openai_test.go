package nlp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/nlp"
)

// completionServer answers every chat completion with content.
func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[0].Content, "id-web, web-1") {
			t.Errorf("system prompt lacks server catalogue: %+v", req.Messages)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Parse(t *testing.T) {
	content := `{
		"message": "Restarting nginx on web-1 and checking db.",
		"intent": {"intent": "command", "targetServer": "web-1", "action": "systemctl restart nginx"},
		"actions": [
			{"type": "execute", "serverId": "id-web", "command": "systemctl restart nginx"},
			{"type": "get_metrics", "serverId": "db"},
			{"type": "execute", "serverId": "ghost", "command": "uptime"}
		]
	}`
	srv := completionServer(t, http.StatusOK, content)
	p := nlp.NewOpenAI(nlp.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/"}, classify.DefaultPolicy())

	resp, err := p.Parse(context.Background(), nlp.Request{Text: "restart nginx on web-1", Servers: fleet})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(resp.Actions) != 2 {
		t.Fatalf("expected unknown server dropped, got %+v", resp.Actions)
	}
	if resp.Actions[0].Type != wire.ActionConfirm {
		t.Errorf("destructive execute not upgraded: %+v", resp.Actions[0])
	}
	if resp.Actions[1].ServerID != "id-db" {
		t.Errorf("server name not mapped to id: %+v", resp.Actions[1])
	}
	if resp.Intent == nil || resp.Intent.TargetServer != "web-1" {
		t.Errorf("intent = %+v", resp.Intent)
	}
	if !strings.Contains(resp.Message, "ghost") {
		t.Errorf("message should mention ignored server: %q", resp.Message)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		content string
		want    error
	}{
		{"rate limited", http.StatusTooManyRequests, "{}", nlp.ErrRateLimit},
		{"not json", http.StatusOK, "sure, I'll do that", nlp.ErrMalformedOutput},
		{"empty answer", http.StatusOK, "{}", nlp.ErrMalformedOutput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := completionServer(t, tc.status, tc.content)
			p := nlp.NewOpenAI(nlp.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)
			_, err := p.Parse(context.Background(), nlp.Request{Text: "x", Servers: fleet})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
