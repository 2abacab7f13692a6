package goGuard

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/goGuard/internal/audit"
)

// AuditEvent is one security-relevant record. PII such as phone numbers
// never appears in Subject; it is pseudonymized with Guard.Hash first.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
)

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewSlogSink(logger *slog.Logger) *SlogSink { return audit.NewSlogSink(logger) }

// Audit event types.
const (
	AuditRateLimited          = "rate_limited"
	AuditDeviceLimited        = "device_limited"
	AuditLoginFailure         = "login_failure"
	AuditLoginLocked          = "login_locked"
	AuditLoginSuccess         = "login_success"
	AuditCSRFRejected         = "csrf_rejected"
	AuditThreatDetected       = "threat_detected"
	AuditIPBlocked            = "ip_blocked"
	AuditIPUnblocked          = "ip_unblocked"
	AuditVerificationIssued   = "verification_issued"
	AuditVerificationConfirm  = "verification_confirmed"
	AuditVerificationRejected = "verification_rejected"
	AuditStoreUnavailable     = "store_unavailable"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
