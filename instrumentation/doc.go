// Package instrumentation provides OpenTelemetry metrics and tracing for
// the auth core. It exposes a single Instrumentation facade that hands out
// named meters and tracers per scope and a Metrics holder with the
// pre-registered instruments the core records into: token issuance and
// validation outcomes, scope and resource checks, admission decisions and
// upstream retry behavior.
//
// When disabled, the facade wires no-op providers so recording has zero
// overhead and no side effects.
package instrumentation
