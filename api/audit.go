package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditKeyRejected   AuditEvent = "access_key_rejected"
	AuditDecryptFailed AuditEvent = "decrypt_failed"
	AuditLoginSuccess  AuditEvent = "login_success"
	AuditLoginFailure  AuditEvent = "login_failure"
	AuditSignup        AuditEvent = "signup"
	AuditSignupFailure AuditEvent = "signup_failure"
	AuditLogout        AuditEvent = "logout"
)

// auditLogger writes security events to slog, feeds the spike detector and
// optionally forwards events to a webhook. Keys are always masked by the
// caller; session tokens are never logged.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	ts := time.Now().UTC().Format(time.RFC3339)
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", ts),
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", append(base, attrs...)...)

	al.metrics.recordEvent(event)
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			RemoteAddr: r.RemoteAddr,
			Timestamp:  ts,
		}
		if len(attrs) > 0 {
			evt.Attrs = make(map[string]string, len(attrs))
			for _, a := range attrs {
				evt.Attrs[a.Key] = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logFailure logs a rejected or failed attempt with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}
