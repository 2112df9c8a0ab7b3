package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/bdobrica/InfraWhiz/common/trace"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestLog_RecordsToStoreAndKafka(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()

	fw := &fakeWriter{}
	log := New(NewStoreSink(s), newKafkaSink(fw, 0))
	ctx := trace.WithTraceID(context.Background(), "t_abc")

	log.Record(ctx, Record{ServerID: "srv-1", ActionID: "sess.1", Command: "uptime", Stdout: "up 3 days", ExitCode: 0})

	hist, err := s.ListHistory(ctx, store.HistoryFilter{ServerID: "srv-1"})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].Command != "uptime" || hist[0].TraceID != "t_abc" || hist[0].ID == "" {
		t.Fatalf("unexpected history %+v", hist)
	}

	if len(fw.msgs) != 1 {
		t.Fatalf("expected one kafka message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "srv-1" {
		t.Errorf("key = %q", msg.Key)
	}
	var got Record
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.ID != hist[0].ID || got.ActionID != "sess.1" {
		t.Errorf("published record %+v does not match stored one", got)
	}

	if err := log.Close(); err != nil || !fw.closed {
		t.Fatalf("Close: %v closed=%v", err, fw.closed)
	}
}

func TestLog_SinkFailureIsSwallowed(t *testing.T) {
	failing := &fakeWriter{err: errors.New("broker down")}
	ok := &fakeWriter{}
	log := New(newKafkaSink(failing, 0), newKafkaSink(ok, 0))

	log.Record(context.Background(), Record{ServerID: "a", Command: "ls"})
	if len(ok.msgs) != 1 {
		t.Fatal("a failing sink must not stop later sinks")
	}
}

func TestNewKafkaSink_RequiresTopic(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error without topic")
	}
}

func TestLog_RedactsSecrets(t *testing.T) {
	fw := &fakeWriter{}
	New(newKafkaSink(fw, 0)).Record(context.Background(),
		Record{ServerID: "a", Command: "echo hunter22", Stdout: "hunter22\n"}, "hunter22")

	var got Record
	if err := json.Unmarshal(fw.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Command == "echo hunter22" || got.Stdout == "hunter22\n" {
		t.Fatalf("secret not masked: %+v", got)
	}
}
