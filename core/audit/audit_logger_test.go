package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAuditLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewZapAuditLogger(zap.New(core))

	l.LogEvent(AuditEvent{EventType: EventRecordSubmission, EntityID: "0x1", Result: ResultSuccess})
	l.LogEvent(AuditEvent{EventType: EventDecryptionSession, EntityID: "s1", Result: ResultFailure, Reason: "NoSigner"})

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, zap.InfoLevel, all[0].Level)
	assert.Equal(t, zap.WarnLevel, all[1].Level)
	assert.Equal(t, "NoSigner", all[1].ContextMap()["reason"])
	assert.Equal(t, "audit", all[0].LoggerName)
}

func TestMemoryAuditLoggerFilter(t *testing.T) {
	l := NewMemoryAuditLogger()
	l.LogEvent(AuditEvent{EventType: EventDecryptionGrant})
	l.LogEvent(AuditEvent{EventType: EventRecordSubmission})
	l.LogEvent(AuditEvent{EventType: EventDecryptionGrant})

	assert.Len(t, l.Events(), 3)
	assert.Len(t, l.Filter(EventDecryptionGrant), 2)
	assert.NotNil(t, OrNop(nil))
}
