// Package security provides the admission-control and throttling pieces of
// the auth core: a per-caller token-bucket admission controller applied
// earliest in the request path, an adaptive rate limiter for outbound calls
// to the monitored platform, and security audit logging with PII
// protection.
//
// The two limiters are independent by design. The admission controller
// protects this process from its own callers; the upstream limiter protects
// the monitored platform's API budget from this process. Both own a
// process-lifetime map (per caller id, per endpoint key) whose entries are
// created lazily and guarded by a mutex, so concurrent refills and
// consumes cannot corrupt bucket or window state.
package security
