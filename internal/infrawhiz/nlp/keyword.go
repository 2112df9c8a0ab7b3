package nlp

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bdobrica/InfraWhiz/common/wire"
)

// TargetAll addresses every registered server.
const TargetAll = "all"

var (
	reDirect  = regexp.MustCompile(`(?i)\b(?:run|execute|exec)\s+(.+)$`)
	reTrailOn = regexp.MustCompile(`(?i)\s+(?:on|in|at|for)\s+(?:server\s+)?([a-z0-9_.-]+)(?:\s+servers?)?\s*$`)
	reAll     = regexp.MustCompile(`(?i)\b(?:all|every|each)\s+(?:the\s+)?(?:servers?|machines?|hosts?)\b|\bon\s+all\b`)
	reRestart = regexp.MustCompile(`(?i)\brestart\s+([a-z0-9_@.-]+)`)
	reStatus  = regexp.MustCompile(`(?i)\b(?:status\s+(?:of\s+)?|check\s+(?:the\s+)?(?:status\s+of\s+)?)([a-z0-9_@.-]+)`)

	// Phrases that name a server the operator expects to exist.
	reNamed = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:on|for|in|at)\s+(?:server\s+)?([a-z0-9_.-]+)`),
		regexp.MustCompile(`(?i)\b([a-z0-9_.-]+)(?:'s)?\s+server\b`),
	}

	metricPatterns = []struct {
		metric string
		re     *regexp.Regexp
	}{
		{"cpu", regexp.MustCompile(`(?i)\b(?:cpu|processor|load)\s+(?:usage|utili[sz]ation|load|stats?)\b`)},
		{"memory", regexp.MustCompile(`(?i)\b(?:memory|ram|mem)\s+(?:usage|utili[sz]ation|stats?)\b`)},
		{"disk", regexp.MustCompile(`(?i)\b(?:disk|storage|space|drive|filesystem)\s+(?:usage|utili[sz]ation|free|available|stats?)\b`)},
		{"uptime", regexp.MustCompile(`(?i)\buptime\b|\bhow long\b|\brunning time\b`)},
		{"network", regexp.MustCompile(`(?i)\b(?:network|bandwidth|connection|internet)\s+(?:usage|speed|stats?)\b`)},
		{"general", regexp.MustCompile(`(?i)\b(?:health|metrics|statistics|stats|performance|monitor)\b`)},
	}

	commandPatterns = []struct {
		re  *regexp.Regexp
		cmd string
	}{
		{regexp.MustCompile(`(?i)\b(?:list|show|display)\s+(?:files|directories)\b`), "ls -la"},
		{regexp.MustCompile(`(?i)\b(?:list|show|display)\s+(?:process|processes)\b`), "ps aux | head -10"},
		{regexp.MustCompile(`(?i)\b(?:check|show|display)\s+disk\s+space\b`), "df -h"},
		{regexp.MustCompile(`(?i)\b(?:check|show|display)\s+memory\s+usage\b`), "free -h"},
		{regexp.MustCompile(`(?i)\b(?:list|show|display)\s+users\b`), "who"},
		{regexp.MustCompile(`(?i)\b(?:list|show|display)\s+(?:network|connections)\b`), "netstat -tuln"},
		{regexp.MustCompile(`(?i)\b(?:check|view|show|display|tail)\s+logs\b`), "tail -n 20 /var/log/syslog"},
	}

	// Words reStatus and reNamed capture that are never service or server names.
	fillerWords = map[string]bool{
		"the": true, "my": true, "me": true, "a": true, "it": true, "this": true,
		"server": true, "servers": true, "all": true, "every": true, "each": true,
		"disk": true, "memory": true, "cpu": true, "logs": true, "usage": true,
		"status": true, "of": true, "you": true,
	}
)

// Keyword is a regular-expression parser that needs no external service.
type Keyword struct {
	policy Policy
}

// NewKeyword returns a keyword parser. policy marks destructive commands as
// "confirm"; nil treats every command as safe to propose as "execute".
func NewKeyword(policy Policy) *Keyword {
	return &Keyword{policy: policy}
}

// ParseIntent extracts the intent, the target server name (or TargetAll,
// or "" when none could be determined) and the action: a metric name for
// metrics requests, a shell command for command requests.
func (k *Keyword) ParseIntent(text string, servers []wire.ServerInfo) wire.Intent {
	in := wire.Intent{}
	body := text

	if m := reDirect.FindStringSubmatch(text); m != nil {
		cmd := m[1]
		if t := reTrailOn.FindStringSubmatchIndex(cmd); t != nil {
			name := cmd[t[2]:t[3]]
			if findServer(servers, name) != nil || strings.EqualFold(name, TargetAll) {
				in.TargetServer = name
				cmd = cmd[:t[0]]
			}
		}
		in.Intent = IntentCommand
		in.Action = strings.Trim(strings.TrimSpace(cmd), `'"`)
		body = ""
	}

	if in.TargetServer == "" {
		in.TargetServer = k.target(text, servers)
	} else if strings.EqualFold(in.TargetServer, TargetAll) {
		in.TargetServer = TargetAll
	}

	if in.Intent != "" {
		return in
	}

	for _, p := range metricPatterns {
		if p.re.MatchString(body) {
			in.Intent, in.Action = IntentMetrics, p.metric
			return in
		}
	}
	if m := reRestart.FindStringSubmatch(body); m != nil && !fillerWords[strings.ToLower(m[1])] {
		in.Intent, in.Action = IntentCommand, "systemctl restart "+m[1]
		return in
	}
	if m := reStatus.FindStringSubmatch(body); m != nil && !fillerWords[strings.ToLower(m[1])] && findServer(servers, m[1]) == nil {
		in.Intent, in.Action = IntentCommand, "systemctl status "+m[1]
		return in
	}
	for _, p := range commandPatterns {
		if p.re.MatchString(body) {
			in.Intent, in.Action = IntentCommand, p.cmd
			return in
		}
	}

	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "cpu"):
		in.Intent, in.Action = IntentMetrics, "cpu"
	case strings.Contains(lower, "memory") || strings.Contains(lower, "ram"):
		in.Intent, in.Action = IntentMetrics, "memory"
	case strings.Contains(lower, "disk") || strings.Contains(lower, "space"):
		in.Intent, in.Action = IntentMetrics, "disk"
	case strings.Contains(lower, "process"):
		in.Intent, in.Action = IntentCommand, "ps aux | head -10"
	case strings.Contains(lower, "status"):
		in.Intent, in.Action = IntentMetrics, "general"
	default:
		in.Intent = IntentUnknown
	}
	return in
}

// target resolves which server the text addresses. Known server names win
// over heuristics; an unknown name that is clearly meant as a server is
// returned as-is so the caller can report it.
func (k *Keyword) target(text string, servers []wire.ServerInfo) string {
	byLength := append([]wire.ServerInfo(nil), servers...)
	sort.Slice(byLength, func(i, j int) bool { return len(byLength[i].Name) > len(byLength[j].Name) })
	for _, s := range byLength {
		re := regexp.MustCompile(`(?i)(?:^|[^a-z0-9_.-])` + regexp.QuoteMeta(s.Name) + `(?:$|[^a-z0-9_-])`)
		if re.MatchString(text) {
			return s.Name
		}
	}
	if reAll.MatchString(text) {
		return TargetAll
	}
	for _, re := range reNamed {
		if m := re.FindStringSubmatch(text); m != nil && !fillerWords[strings.ToLower(m[1])] {
			return m[1]
		}
	}
	return ""
}

// Parse implements Parser.
func (k *Keyword) Parse(_ context.Context, req Request) (*wire.AIResponse, error) {
	in := k.ParseIntent(req.Text, req.Servers)
	resp := &wire.AIResponse{Intent: &in, Actions: []wire.RawAction{}}

	if len(req.Servers) == 0 {
		resp.Message = "No servers are configured. Please add a server first."
		return resp, nil
	}
	if in.Intent == IntentUnknown {
		resp.Message = "I'm not sure what you want to do. Try asking about system metrics or specify a command to run."
		return resp, nil
	}

	targets, label, note := resolveTargets(in, req.Servers)
	if targets == nil {
		resp.Message = note
		return resp, nil
	}

	switch in.Intent {
	case IntentMetrics:
		resp.Message = note + fmt.Sprintf("Retrieving %s metrics for %s.", in.Action, label)
		for _, s := range targets {
			resp.Actions = append(resp.Actions, wire.RawAction{Type: wire.ActionGetMetrics, ServerID: s.ID})
		}
	case IntentCommand:
		typ := wire.ActionExecute
		if k.policy != nil {
			if destructive, _ := k.policy.Destructive(in.Action); destructive {
				typ = wire.ActionConfirm
			}
		}
		if typ == wire.ActionConfirm {
			resp.Message = note + fmt.Sprintf("Warning: the command '%s' is potentially destructive. Are you sure you want to run it on %s?", in.Action, label)
		} else {
			resp.Message = note + fmt.Sprintf("Executing '%s' on %s.", in.Action, label)
		}
		for _, s := range targets {
			resp.Actions = append(resp.Actions, wire.RawAction{Type: typ, ServerID: s.ID, Command: in.Action})
		}
	}
	return resp, nil
}

// resolveTargets maps the intent's target to servers. A nil slice means no
// action should be proposed and note explains why.
func resolveTargets(in wire.Intent, servers []wire.ServerInfo) (targets []wire.ServerInfo, label, note string) {
	switch {
	case in.TargetServer == TargetAll:
		return servers, "all servers", ""
	case in.TargetServer != "":
		if s := findServer(servers, in.TargetServer); s != nil {
			return []wire.ServerInfo{*s}, s.Name, ""
		}
		// Never run a command on a server the operator did not name.
		if in.Intent == IntentCommand {
			return nil, "", fmt.Sprintf("Server '%s' not found. Known servers: %s.", in.TargetServer, serverNames(servers))
		}
		note = fmt.Sprintf("Server '%s' not found. ", in.TargetServer)
	}
	if len(servers) == 1 {
		return servers, servers[0].Name, note
	}
	if in.Intent == IntentCommand {
		return nil, "", fmt.Sprintf("Which server? Say \"on <name>\" or \"on all servers\". Known servers: %s.", serverNames(servers))
	}
	return servers, "all servers", note
}

func findServer(servers []wire.ServerInfo, ref string) *wire.ServerInfo {
	for i := range servers {
		if strings.EqualFold(servers[i].Name, ref) || servers[i].ID == ref {
			return &servers[i]
		}
	}
	return nil
}

func serverNames(servers []wire.ServerInfo) string {
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	return strings.Join(names, ", ")
}
