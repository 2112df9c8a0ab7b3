// Package matrix lets operators drive a console session from a Matrix room.
//
// Messages from allowed senders in the bound room are handled exactly like
// lines typed at the console; session output is posted back to the room as
// notices, batched so a burst of history entries becomes one message.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/InfraWhiz/common/retry"
	"github.com/bdobrica/InfraWhiz/internal/console/operator"
)

// Config holds the Matrix account and room the bridge serves.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// RoomID is the single room the bridge listens and answers in.
	RoomID string
	// Operators lists the Matrix user ids allowed to issue requests.
	// Empty means every member of the room.
	Operators []string
	// FlushInterval is how long output is gathered before posting.
	// Default 500ms.
	FlushInterval time.Duration
}

// Poster publishes one batch of output to the room.
type Poster interface {
	Post(ctx context.Context, plain, formatted string) error
}

// Bridge connects an operator.Operator to a Matrix room.
type Bridge struct {
	cfg    Config
	op     *operator.Operator
	poster Poster
	client *mautrix.Client
	since  time.Time

	lines chan operator.Line
	wg    sync.WaitGroup
	stop  context.CancelFunc
}

// New creates a bridge backed by a mautrix client.
func New(cfg Config, op *operator.Operator) (*Bridge, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("matrix: room id is required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	b := newBridge(cfg, op, &roomPoster{client: client, room: id.RoomID(cfg.RoomID)})
	b.client = client
	return b, nil
}

func newBridge(cfg Config, op *operator.Operator, poster Poster) *Bridge {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	b := &Bridge{
		cfg:    cfg,
		op:     op,
		poster: poster,
		since:  time.Now(),
		lines:  make(chan operator.Line, 256),
	}
	op.Output(b.enqueue)
	return b
}

// Start joins the room and begins syncing. Output posting runs until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.stop = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runFlusher(ctx)
	}()

	if b.client == nil {
		return nil
	}
	if _, err := b.client.JoinRoomByID(ctx, id.RoomID(b.cfg.RoomID)); err != nil && !errors.Is(err, mautrix.MForbidden) {
		cancel()
		return fmt.Errorf("matrix: join %s: %w", b.cfg.RoomID, err)
	}
	syncer := b.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, b.handleMessage)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runSync(ctx)
	}()
	slog.Info("matrix: bridge started", "room", b.cfg.RoomID, "user", b.cfg.UserID)
	return nil
}

// Stop ends syncing and flushes nothing further.
func (b *Bridge) Stop() {
	if b.stop != nil {
		b.stop()
	}
	if b.client != nil {
		b.client.StopSync()
	}
	b.wg.Wait()
}

func (b *Bridge) runSync(ctx context.Context) {
	backoff := &retry.Backoff{Initial: 2 * time.Second, Max: 5 * time.Minute}
	for ctx.Err() == nil {
		err := b.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		delay := backoff.Next()
		slog.Error("matrix: sync stopped; reconnecting", "err", err, "backoff", delay)
		if retry.Sleep(ctx, delay) != nil {
			return
		}
	}
}

func (b *Bridge) handleMessage(_ context.Context, evt *event.Event) {
	if evt.RoomID.String() != b.cfg.RoomID || evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(b.since) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	b.accept(evt.Sender.String(), msg.Body)
}

// accept handles one message body from sender.
func (b *Bridge) accept(sender, body string) {
	if !b.allowed(sender) {
		slog.Warn("matrix: ignoring message from non-operator", "sender", sender)
		return
	}
	text := strings.TrimSpace(body)
	if strings.EqualFold(text, "/quit") || strings.EqualFold(text, "/exit") {
		b.enqueue(operator.Line{Text: "The Matrix bridge cannot be closed from the room.", Style: operator.StyleNote})
		return
	}
	b.op.Handle(text)
}

func (b *Bridge) allowed(sender string) bool {
	if len(b.cfg.Operators) == 0 {
		return true
	}
	for _, o := range b.cfg.Operators {
		if o == sender {
			return true
		}
	}
	return false
}

func (b *Bridge) enqueue(l operator.Line) {
	select {
	case b.lines <- l:
	default:
		slog.Warn("matrix: output buffer full, dropping line")
	}
}

func (b *Bridge) runFlusher(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	var batch []operator.Line
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-b.lines:
			batch = append(batch, l)
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
			plain, formatted := formatBatch(batch)
			batch = nil
			if err := b.poster.Post(ctx, plain, formatted); err != nil {
				slog.Warn("matrix: post failed", "err", err)
			}
		}
	}
}

// formatBatch renders lines as plain text and as HTML. Command output is
// wrapped in <pre> blocks.
func formatBatch(lines []operator.Line) (string, string) {
	var plain, formatted strings.Builder
	inPre := false
	for i, l := range lines {
		if i > 0 {
			plain.WriteByte('\n')
		}
		plain.WriteString(l.Text)

		pre := l.Style == operator.StylePlain && strings.HasPrefix(l.Text, "  ")
		if pre != inPre {
			if pre {
				formatted.WriteString("<pre>")
			} else {
				formatted.WriteString("</pre>")
			}
			inPre = pre
		}
		text := html.EscapeString(l.Text)
		switch {
		case pre:
			formatted.WriteString(text + "\n")
		case l.Style == operator.StylePrompt:
			formatted.WriteString("<strong>" + text + "</strong><br>")
		case l.Style == operator.StyleUser:
			formatted.WriteString("<em>" + text + "</em><br>")
		default:
			formatted.WriteString(text + "<br>")
		}
	}
	if inPre {
		formatted.WriteString("</pre>")
	}
	return plain.String(), formatted.String()
}

type roomPoster struct {
	client *mautrix.Client
	room   id.RoomID
}

func (p *roomPoster) Post(ctx context.Context, plain, formatted string) error {
	content := event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          plain,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
	if _, err := p.client.SendMessageEvent(ctx, p.room, event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}
