package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Caller and
// subject identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(subject, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenValidationFailed logs a failed token validation
func (a *Auditor) LogTokenValidationFailed(errorCode, reason string) {
	a.LogEvent(Event{
		Type: EventTokenValidationFailed,
		Details: map[string]any{
			"error_code": errorCode,
			"reason":     reason,
		},
	})
}

// LogScopeDenied logs an authorization failure for missing scopes
func (a *Auditor) LogScopeDenied(subject, tool string, missing []string) {
	a.LogEvent(Event{
		Type:    EventScopeDenied,
		Subject: subject,
		Details: map[string]any{
			"tool":           tool,
			"missing_scopes": missing,
		},
	})
}

// LogAdmissionRejected logs a per-caller throttling rejection
func (a *Auditor) LogAdmissionRejected(callerID string, retryAfter time.Duration) {
	a.LogEvent(Event{
		Type:    EventAdmissionRejected,
		Subject: callerID,
		Details: map[string]any{
			"retry_after_ms": retryAfter.Milliseconds(),
		},
	})
}

// LogUpstreamThrottled logs an upstream call that exhausted its retries
func (a *Auditor) LogUpstreamThrottled(endpoint string, attempts int) {
	a.LogEvent(Event{
		Type: EventUpstreamThrottled,
		Details: map[string]any{
			"endpoint": endpoint,
			"attempts": attempts,
		},
	})
}

// LogClientRegistered logs when a confidential client is registered
func (a *Auditor) LogClientRegistered(clientID, clientName string) {
	a.LogEvent(Event{
		Type:     EventClientRegistered,
		ClientID: clientID,
		Details: map[string]any{
			"client_name": clientName,
		},
	})
}

// LogClientAuthFailure logs a failed client authentication
func (a *Auditor) LogClientAuthFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventClientAuthFailure,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogResourceRejected logs a rejected resource indicator (RFC 8707)
func (a *Auditor) LogResourceRejected(resource, reason string) {
	a.LogEvent(Event{
		Type: EventResourceRejected,
		Details: map[string]any{
			"resource": resource,
			"reason":   reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
