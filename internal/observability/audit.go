package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event types
const (
	AuditTool       = "tool"
	AuditGovernance = "governance"
	AuditSession    = "session"
)

// AuditEvent is one line of the audit log
type AuditEvent struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Action    string         `json:"action"` // e.g. "execute:lookup_order", "review", "close"
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.Nop()}
)

// GetAuditLogger returns the process audit logger. It discards events until
// InitAuditLogger or SetAuditWriter is called.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger appends audit events to the file at path.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	swapAudit(&AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		closer: file,
	})
	return nil
}

// SetAuditWriter sends audit events to w. A nil writer disables auditing.
func SetAuditWriter(w io.Writer) {
	if w == nil {
		swapAudit(&AuditLogger{logger: zerolog.Nop()})
		return
	}
	swapAudit(&AuditLogger{logger: zerolog.New(w).With().Timestamp().Logger()})
}

func swapAudit(next *AuditLogger) {
	auditMu.Lock()
	prev := auditInst
	auditInst = next
	auditMu.Unlock()
	_ = prev.Close()
}

// Record writes event and mirrors it onto the active span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.session_id", event.SessionID),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("session_id", event.SessionID).
		Str("action", event.Action).
		Str("status", event.Status).
		Time("at", event.Timestamp)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close releases the audit file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

func RecordToolAudit(ctx context.Context, sessionID, toolName, status string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      AuditTool,
		SessionID: sessionID,
		Action:    "execute:" + toolName,
		Status:    status,
		Metadata:  metadata,
	})
}

func RecordGovernanceAudit(ctx context.Context, sessionID, outcome string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      AuditGovernance,
		SessionID: sessionID,
		Action:    "review",
		Status:    outcome,
		Metadata:  metadata,
	})
}

func RecordSessionAudit(ctx context.Context, sessionID, action string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      AuditSession,
		SessionID: sessionID,
		Action:    action,
		Status:    "success",
		Metadata:  metadata,
	})
}
