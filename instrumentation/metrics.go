package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the auth core
type Metrics struct {
	// Token Service Metrics
	TokensIssued     metric.Int64Counter
	TokenValidations metric.Int64Counter

	// Authorization Metrics
	ScopeChecks         metric.Int64Counter
	ResourceValidations metric.Int64Counter

	// Admission Control Metrics
	AdmissionDecisions  metric.Int64Counter
	AdmissionRetryAfter metric.Float64Histogram

	// Upstream Rate Limiting Metrics
	UpstreamRetries         metric.Int64Counter
	UpstreamBackoffDuration metric.Float64Histogram

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	tokenMeter := inst.Meter("token")
	authzMeter := inst.Meter("authz")
	securityMeter := inst.Meter("security")

	var err error
	m.TokensIssued, err = tokenMeter.Int64Counter(
		"authcore.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.TokenValidations, err = tokenMeter.Int64Counter(
		"authcore.token.validations",
		metric.WithDescription("Number of token validations by outcome"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.validations counter: %w", err)
	}

	m.ScopeChecks, err = authzMeter.Int64Counter(
		"authcore.scope.checks",
		metric.WithDescription("Number of tool scope checks by result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scope.checks counter: %w", err)
	}

	m.ResourceValidations, err = authzMeter.Int64Counter(
		"authcore.resource.validations",
		metric.WithDescription("Number of RFC 8707 resource validations by result"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource.validations counter: %w", err)
	}

	m.AdmissionDecisions, err = securityMeter.Int64Counter(
		"authcore.admission.decisions",
		metric.WithDescription("Number of admission decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission.decisions counter: %w", err)
	}

	m.AdmissionRetryAfter, err = securityMeter.Float64Histogram(
		"authcore.admission.retry_after",
		metric.WithDescription("Retry-after hints handed to rejected callers in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission.retry_after histogram: %w", err)
	}

	m.UpstreamRetries, err = securityMeter.Int64Counter(
		"authcore.upstream.retries",
		metric.WithDescription("Number of retried upstream calls after throttling"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.retries counter: %w", err)
	}

	m.UpstreamBackoffDuration, err = securityMeter.Float64Histogram(
		"authcore.upstream.backoff.duration",
		metric.WithDescription("Backoff sleeps before upstream calls in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.backoff.duration histogram: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"authcore.audit.events",
		metric.WithDescription("Number of security audit events emitted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events counter: %w", err)
	}

	return m, nil
}
