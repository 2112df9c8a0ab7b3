package matrix

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/metrics"
	"github.com/bdobrica/InfraWhiz/internal/console/operator"
	"github.com/bdobrica/InfraWhiz/internal/console/session"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

type fakePoster struct {
	mu    sync.Mutex
	posts []string
	html  []string
}

func (f *fakePoster) Post(_ context.Context, plain, formatted string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, plain)
	f.html = append(f.html, formatted)
	return nil
}

func (f *fakePoster) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...), append([]string(nil), f.html...)
}

func newTestBridge(t *testing.T, operators ...string) (*Bridge, *transport.Recorder, *fakePoster) {
	t.Helper()
	rec := transport.NewRecorder()
	sess, err := session.New(session.Config{Transport: rec})
	if err != nil {
		t.Fatal(err)
	}
	op := operator.New(sess, metrics.New(rec), operator.NewDirectory(rec), rec)
	poster := &fakePoster{}
	b := newBridge(Config{RoomID: "!ops:example.org", Operators: operators, FlushInterval: 10 * time.Millisecond}, op, poster)
	return b, rec, poster
}

func TestAccept_AllowedOperatorSubmits(t *testing.T) {
	b, rec, _ := newTestBridge(t, "@alice:example.org")

	b.accept("@mallory:example.org", "reboot everything")
	if n := len(rec.SentEvents(wire.EventUserMessage)); n != 0 {
		t.Fatalf("non-operator message was submitted")
	}
	b.accept("@alice:example.org", "check cpu on web-1")
	if n := len(rec.SentEvents(wire.EventUserMessage)); n != 1 {
		t.Fatalf("expected 1 submission, got %d", n)
	}
}

func TestFlusher_BatchesOutput(t *testing.T) {
	b, _, poster := newTestBridge(t)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	b.accept("@bob:example.org", "check cpu")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		posts, _ := poster.snapshot()
		if len(posts) > 0 {
			if !strings.Contains(posts[0], "> check cpu") {
				t.Fatalf("unexpected post: %q", posts[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no output posted")
}

func TestFormatBatch(t *testing.T) {
	plain, formatted := formatBatch([]operator.Line{
		{Text: "✅ uptime on web-1", Style: operator.StyleResult},
		{Text: "  up <3 days>", Style: operator.StylePlain},
		{Text: "Run `reboot`? [yes/no]", Style: operator.StylePrompt},
	})
	if plain != "✅ uptime on web-1\n  up <3 days>\nRun `reboot`? [yes/no]" {
		t.Fatalf("plain = %q", plain)
	}
	if !strings.Contains(formatted, "<pre>  up &lt;3 days&gt;\n</pre>") {
		t.Fatalf("output not wrapped and escaped: %q", formatted)
	}
	if !strings.Contains(formatted, "<strong>Run `reboot`? [yes/no]</strong>") {
		t.Fatalf("prompt not emphasised: %q", formatted)
	}
}
