package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditRegisterInit         AuditEvent = "register_init"
	AuditRegisterTOTPVerified AuditEvent = "register_totp_verified"
	AuditRegister             AuditEvent = "register"
	AuditRegisterFailure      AuditEvent = "register_failure"
	AuditRegisterRateLimited  AuditEvent = "register_rate_limited"
	AuditLoginProofAccepted   AuditEvent = "login_proof_accepted"
	AuditLoginSuccess         AuditEvent = "login_success"
	AuditLoginFailure         AuditEvent = "login_failure"
	AuditLoginRateLimited     AuditEvent = "login_rate_limited"
	AuditLogout               AuditEvent = "logout"
	AuditItemCreated          AuditEvent = "item_created"
	AuditItemUpdated          AuditEvent = "item_updated"
	AuditItemDeleted          AuditEvent = "item_deleted"
	AuditPasswordChanged      AuditEvent = "password_changed"
	AuditRequestMACFailure    AuditEvent = "request_mac_failure"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. Accounts are identified by UUID;
// usernames, words and keys never appear.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events with an account UUID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountUUID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("account_uuid", accountUUID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request with a reason that is safe to record.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
