package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued
	EventTokenIssued = "token_issued"

	// EventTokenValidationFailed is logged when token validation fails
	// (malformed, tampered, expired, or wrong audience)
	EventTokenValidationFailed = "token_validation_failed"

	// Authorization events

	// EventScopeDenied is logged when a caller lacks a required scope
	EventScopeDenied = "scope_denied"

	// EventResourceRejected is logged when a resource indicator is
	// unsupported or malformed (RFC 8707)
	EventResourceRejected = "resource_rejected"

	// Client events

	// EventClientRegistered is logged when a confidential client is registered
	EventClientRegistered = "client_registered"

	// EventClientAuthFailure is logged when client authentication fails
	EventClientAuthFailure = "client_auth_failure"

	// Throttling events

	// EventAdmissionRejected is logged when per-caller admission control
	// rejects a request
	EventAdmissionRejected = "admission_rejected"

	// EventUpstreamThrottled is logged when a call to the monitored
	// platform fails with a capacity error after exhausting its retries
	EventUpstreamThrottled = "upstream_throttled"
)
