// Package repl is the line-oriented operator console: it reads requests from
// an input stream and prints the session as it unfolds.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/bdobrica/InfraWhiz/internal/console/operator"
)

// Console is one interactive operator console.
type Console struct {
	op  *operator.Operator
	in  io.Reader
	out io.Writer

	mu     sync.Mutex
	styles map[operator.Style]*color.Color
}

// New attaches a console to op. When plain is set, output carries no ANSI
// colour codes.
func New(op *operator.Operator, in io.Reader, out io.Writer, plain bool) *Console {
	c := &Console{
		op:  op,
		in:  in,
		out: out,
		styles: map[operator.Style]*color.Color{
			operator.StylePlain:     color.New(color.Reset),
			operator.StyleUser:      color.New(color.FgWhite, color.Bold),
			operator.StyleAssistant: color.New(color.FgCyan),
			operator.StyleNote:      color.New(color.FgHiBlack),
			operator.StyleResult:    color.New(color.FgGreen),
			operator.StyleFailure:   color.New(color.FgRed),
			operator.StylePrompt:    color.New(color.FgYellow, color.Bold),
			operator.StyleMetrics:   color.New(color.FgMagenta),
		},
	}
	if plain {
		for _, s := range c.styles {
			s.DisableColor()
		}
	}
	op.Output(c.print)
	return c
}

func (c *Console) print(l operator.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	style, ok := c.styles[l.Style]
	if !ok {
		style = c.styles[operator.StylePlain]
	}
	_, _ = style.Fprintln(c.out, l.Text)
}

// Run reads lines until input ends, the operator quits, or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	c.print(operator.Line{Text: "Type /help for commands.", Style: operator.StyleNote})
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("repl: read input: %w", err)
			}
			return nil
		case line := <-lines:
			if c.op.Handle(line) {
				return nil
			}
		}
	}
}
