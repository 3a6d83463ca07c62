package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	EventRecordSubmission  = "RecordSubmission"
	EventDecryptionGrant   = "DecryptionGrant"
	EventDecryptionSession = "DecryptionSession"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AuditEvent represents a record write or decryption authorization event.
// Metadata never carries plaintext metric values.
type AuditEvent struct {
	Timestamp time.Time
	EventType string            // e.g., "RecordSubmission", "DecryptionGrant"
	EntityID  string            // identity address or session id
	Result    string            // "success" or "failure"
	Reason    string            // error message or reason code
	Metadata  map[string]string // any extra details
}

// AuditLogger is the interface for logging audit events.
type AuditLogger interface {
	LogEvent(event AuditEvent)
}

// ZapAuditLogger writes audit events through a zap logger under the "audit" name.
type ZapAuditLogger struct {
	logger *zap.Logger
}

func NewZapAuditLogger(logger *zap.Logger) AuditLogger {
	return &ZapAuditLogger{logger: logger.Named("audit")}
}

func (l *ZapAuditLogger) LogEvent(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	fields := []zap.Field{
		zap.Time("ts_event", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("entity", event.EntityID),
		zap.String("result", event.Result),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	if event.Result == ResultFailure {
		l.logger.Warn("audit event", fields...)
		return
	}
	l.logger.Info("audit event", fields...)
}

// MemoryAuditLogger keeps events in memory. Used by tests and the dev node status page.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

func (l *MemoryAuditLogger) LogEvent(event AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Events returns a copy of everything logged so far.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEvent(nil), l.events...)
}

// Filter returns the logged events of the given type.
func (l *MemoryAuditLogger) Filter(eventType string) []AuditEvent {
	var out []AuditEvent
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type nopAuditLogger struct{}

func (nopAuditLogger) LogEvent(AuditEvent) {}

// Nop discards every event.
func Nop() AuditLogger { return nopAuditLogger{} }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l AuditLogger) AuditLogger {
	if l == nil {
		return Nop()
	}
	return l
}
