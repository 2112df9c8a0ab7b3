// Package audit records every command the backend executes. Records always
// go to the command_history table; when Kafka brokers are configured they
// are also published to a topic for downstream consumers.
//
// Recording never fails the execution it describes: sink errors are logged
// and dropped.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/InfraWhiz/common/redact"
	"github.com/bdobrica/InfraWhiz/common/trace"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

// Record describes one execution attempt. Error is set when the command
// never ran.
type Record struct {
	ID         string        `json:"id"`
	ServerID   string        `json:"serverId"`
	ServerName string        `json:"serverName,omitempty"`
	ActionID   string        `json:"actionId,omitempty"`
	TraceID    string        `json:"traceId,omitempty"`
	Command    string        `json:"command"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exitCode"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNs"`
	ExecutedAt time.Time     `json:"executedAt"`
}

// Sink persists or forwards records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Log fans records out to its sinks.
type Log struct {
	sinks []Sink
}

func New(sinks ...Sink) *Log {
	return &Log{sinks: sinks}
}

// Record fills in the id, trace id and timestamp when missing, masks any of
// secrets that leaked into the command or its output, and writes rec to
// every sink.
func (l *Log) Record(ctx context.Context, rec Record, secrets ...string) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.TraceID == "" {
		rec.TraceID = trace.FromContext(ctx)
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	rec.Command = redact.String(rec.Command, secrets...)
	rec.Stdout = redact.String(rec.Stdout, secrets...)
	rec.Stderr = redact.String(rec.Stderr, secrets...)
	rec.Error = redact.String(rec.Error, secrets...)

	for _, s := range l.sinks {
		if err := s.Write(ctx, rec); err != nil {
			slog.Warn("audit: sink write failed", "err", err, "action_id", rec.ActionID, "trace_id", rec.TraceID)
		}
	}
}

// Close closes every sink.
func (l *Log) Close() error {
	var first error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StoreSink writes records to the command_history table.
type StoreSink struct {
	store *store.Store
}

func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Write(ctx context.Context, rec Record) error {
	return s.store.AddHistory(ctx, &store.HistoryEntry{
		ID:         rec.ID,
		ServerID:   rec.ServerID,
		ActionID:   rec.ActionID,
		TraceID:    rec.TraceID,
		Command:    rec.Command,
		Stdout:     rec.Stdout,
		Stderr:     rec.Stderr,
		ExitCode:   rec.ExitCode,
		Error:      rec.Error,
		Duration:   rec.Duration,
		ExecutedAt: rec.ExecutedAt,
	})
}

// Close is a no-op; the store is owned by the caller.
func (s *StoreSink) Close() error { return nil }
