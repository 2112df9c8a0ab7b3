package operator

import (
	"fmt"
	"strings"

	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/console/metrics"
	"github.com/bdobrica/InfraWhiz/internal/console/session"
)

// Style tells a surface how to present a Line.
type Style int

const (
	StylePlain Style = iota
	StyleUser
	StyleAssistant
	StyleNote
	StyleResult
	StyleFailure
	StylePrompt
	StyleMetrics
)

// Line is one piece of operator-facing output.
type Line struct {
	Text  string
	Style Style
}

// maxOutput truncates long command output in rendered results.
const maxOutput = 4000

// RenderEntry turns a history entry into output lines.
func (o *Operator) RenderEntry(e session.Entry) []Line {
	switch b := e.Body.(type) {
	case session.UserInput:
		return []Line{{Text: "> " + b.Text, Style: StyleUser}}
	case session.ParsedIntent:
		target := b.TargetServer
		if target == "" {
			target = "-"
		}
		return []Line{{Text: fmt.Sprintf("intent: %s  target: %s  action: %s", b.Intent, target, b.Action), Style: StyleNote}}
	case session.AIMessage:
		lines := []Line{{Text: b.Text, Style: StyleAssistant}}
		for _, a := range b.Actions {
			if a.Kind == classify.Informational && a.Command != "" {
				lines = append(lines, Line{Text: fmt.Sprintf("  suggestion for %s: %s", o.dir.Name(a.ServerID), a.Command), Style: StyleNote})
			}
		}
		return lines
	case session.ExecutionResult:
		return o.renderResult(b)
	case session.SystemNote:
		return []Line{{Text: "• " + b.Text, Style: StyleNote}}
	default:
		return nil
	}
}

func (o *Operator) renderResult(r session.ExecutionResult) []Line {
	header := fmt.Sprintf("✅ %s on %s", r.Command, o.dir.Name(r.ServerID))
	style := StyleResult
	if r.Failed() {
		header = fmt.Sprintf("❌ %s on %s (exit %d)", r.Command, o.dir.Name(r.ServerID), r.ExitCode)
		style = StyleFailure
	}
	lines := []Line{{Text: header, Style: style}}
	if r.Error != "" {
		lines = append(lines, Line{Text: "  " + r.Error, Style: StyleFailure})
	}
	if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
		lines = append(lines, Line{Text: indent(truncate(out)), Style: StylePlain})
	}
	if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
		lines = append(lines, Line{Text: indent(truncate(errOut)), Style: StyleFailure})
	}
	return lines
}

// RenderPrompt describes the action awaiting a decision.
func (o *Operator) RenderPrompt(a classify.Action, queued int) Line {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️  Run `%s` on %s?", a.Command, o.dir.Name(a.ServerID))
	if len(a.Reasons) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(a.Reasons, "; "))
	}
	b.WriteString(" [yes/no]")
	if queued > 0 {
		fmt.Fprintf(&b, " (%d more waiting)", queued)
	}
	return Line{Text: b.String(), Style: StylePrompt}
}

// RenderSnapshot summarises one server's metrics.
func (o *Operator) RenderSnapshot(s metrics.Snapshot) Line {
	name := o.dir.Name(s.ServerID)
	if s.Metrics == nil {
		return Line{Text: fmt.Sprintf("📊 %s: unavailable (%s)", name, s.Error), Style: StyleFailure}
	}
	m := s.Metrics
	parts := []string{}
	if m.CPUUsage != nil {
		parts = append(parts, fmt.Sprintf("cpu %.1f%%", *m.CPUUsage))
	}
	if m.MemoryUsed != nil && m.MemoryTotal != nil {
		mem := fmt.Sprintf("mem %d/%d MB", *m.MemoryUsed, *m.MemoryTotal)
		if m.MemoryPercent != nil {
			mem += fmt.Sprintf(" (%.1f%%)", *m.MemoryPercent)
		}
		parts = append(parts, mem)
	}
	if m.DiskUsed != "" {
		parts = append(parts, fmt.Sprintf("disk %s/%s (%s)", m.DiskUsed, m.DiskTotal, m.DiskPercent))
	}
	if len(m.LoadAvg) == 3 {
		parts = append(parts, fmt.Sprintf("load %.2f %.2f %.2f", m.LoadAvg[0], m.LoadAvg[1], m.LoadAvg[2]))
	}
	if m.Uptime != "" {
		parts = append(parts, m.Uptime)
	}
	text := fmt.Sprintf("📊 %s: %s", name, strings.Join(parts, ", "))
	if s.Error != "" {
		text += fmt.Sprintf(" (%s)", s.Error)
	}
	return Line{Text: text, Style: StyleMetrics}
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "\n… (truncated)"
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
