// Package audit records security-relevant events as structured JSON lines.
// Every access decision, policy swap and sweep run leaves a record here;
// aggregation and retention are the log pipeline's problem.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-labs/spifmark/pkg/identity"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventDecision EventType = "DECISION"
	EventPolicy   EventType = "POLICY"
	EventSweep    EventType = "SWEEP"
	EventSystem   EventType = "SYSTEM"
)

// Event represents a structured audit record.
type Event struct {
	ID        string                 `json:"id"`
	ActorID   string                 `json:"actor_id"`
	Country   string                 `json:"country,omitempty"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	actorID := "system"
	country := ""
	if subject, err := identity.SubjectFrom(ctx); err == nil {
		actorID = subject.ID
		country = string(subject.Country)
	}

	event := Event{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Country:   country,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// Discard is a Logger that drops every event. For tests and tooling that
// must not emit audit noise.
var Discard Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Record(context.Context, EventType, string, string, map[string]interface{}) error {
	return nil
}
