package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/observekit/mcp-authcore/instrumentation"
)

const (
	// DefaultBackoffThreshold is the remaining-token count at or below
	// which preemptive backoff kicks in
	DefaultBackoffThreshold = 10

	// resetSafetyBuffer pads the wait for a window reset, since the reset
	// time is approximated from our own observation rather than the
	// upstream's true window start
	resetSafetyBuffer = time.Second

	// maxJitterFraction is the upper bound of random jitter added to
	// backoff delays to avoid synchronized retries across callers
	maxJitterFraction = 0.10
)

// Rate limit response headers of the monitored platform's REST API
const (
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitWindow    = "X-Rate-Limit-Window"
)

// RateLimitWindow is the most recently observed rate-limit state for one
// upstream endpoint
type RateLimitWindow struct {
	// Limit is the request budget per window
	Limit int

	// Remaining is the budget left when last observed
	Remaining int

	// WindowSeconds is the window length reported by the upstream
	WindowSeconds int

	// ResetAt approximates when the window resets: observation time plus
	// the window length. Not anchored to the upstream's true window start,
	// so treat it as a hint rather than authoritative.
	ResetAt time.Time

	// ObservedAt is when these values were read off a response
	ObservedAt time.Time
}

// ThrottleError tags a failure as an upstream capacity error at the point
// the response is received, so retry classification does not depend on
// matching error text.
type ThrottleError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *ThrottleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream throttled on %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream throttled on %s (status %d)", e.Endpoint, e.StatusCode)
}

// Unwrap returns the underlying transport error
func (e *ThrottleError) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether an error is a transient upstream
// capacity error worth retrying. Tagged *ThrottleError values are
// authoritative; for errors from transports that do not tag, a loose text
// heuristic (HTTP 429 or the phrase "rate limit") is kept as fallback.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var throttle *ThrottleError
	if errors.As(err, &throttle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// RetryOptions configures ExecuteWithRetry and CalculateBackoff
type RetryOptions struct {
	// MaxRetries is the total number of attempts. Default: 3
	MaxRetries int

	// InitialDelay is the base backoff delay. Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay. Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Default: 2.0
	Multiplier float64
}

// withDefaults fills in zero-valued options
func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
	return o
}

// CalculateBackoff returns the exponential backoff delay for the given
// attempt (1-based): initialDelay * multiplier^(attempt-1), capped at
// maxDelay, plus up to 10% random jitter.
func CalculateBackoff(attempt int, opts RetryOptions) time.Duration {
	opts = opts.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt-1))
	if delay > float64(opts.MaxDelay) {
		delay = float64(opts.MaxDelay)
	}

	jitter := delay * maxJitterFraction * rand.Float64()
	return time.Duration(delay + jitter)
}

// UpstreamLimiter adapts outbound calls to the monitored platform's rate
// limits: it remembers the limit headers observed per endpoint, backs off
// preemptively when the remaining budget runs low, and retries transient
// capacity errors with exponential backoff.
type UpstreamLimiter struct {
	mu      sync.Mutex
	windows map[string]*RateLimitWindow

	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// now and sleep are the clock seams; tests replace them
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewUpstreamLimiter creates an upstream rate limiter
func NewUpstreamLimiter(logger *slog.Logger) *UpstreamLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpstreamLimiter{
		windows: make(map[string]*RateLimitWindow),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetInstrumentation attaches OpenTelemetry metrics
func (l *UpstreamLimiter) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		l.metrics = inst.Metrics()
	}
}

// sleepContext sleeps for d or until the context is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observe records the rate-limit state for an endpoint as read off a
// response. The reset time is computed as now plus the window length.
func (l *UpstreamLimiter) Observe(endpoint string, limit, remaining, windowSeconds int) {
	now := l.now()

	l.mu.Lock()
	l.windows[endpoint] = &RateLimitWindow{
		Limit:         limit,
		Remaining:     remaining,
		WindowSeconds: windowSeconds,
		ResetAt:       now.Add(time.Duration(windowSeconds) * time.Second),
		ObservedAt:    now,
	}
	l.mu.Unlock()

	l.logger.Debug("Upstream rate limit observed",
		"endpoint", endpoint,
		"limit", limit,
		"remaining", remaining,
		"window_seconds", windowSeconds)
}

// UpdateFromHeaders records the rate-limit state carried in the monitored
// platform's response headers. Responses without the headers are ignored.
func (l *UpstreamLimiter) UpdateFromHeaders(endpoint string, headers http.Header) {
	limit, err := strconv.Atoi(headers.Get(HeaderRateLimitLimit))
	if err != nil {
		return
	}
	remaining, err := strconv.Atoi(headers.Get(HeaderRateLimitRemaining))
	if err != nil {
		return
	}
	window, err := strconv.Atoi(headers.Get(HeaderRateLimitWindow))
	if err != nil {
		return
	}
	l.Observe(endpoint, limit, remaining, window)
}

// Window returns the last observed state for an endpoint
func (l *UpstreamLimiter) Window(endpoint string) (RateLimitWindow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[endpoint]
	if !ok {
		return RateLimitWindow{}, false
	}
	return *w, true
}

// ShouldBackoff reports whether the endpoint's remaining budget has fallen
// to or below the threshold, enabling throttling before outright
// exhaustion. threshold <= 0 uses the default of 10.
func (l *UpstreamLimiter) ShouldBackoff(endpoint string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultBackoffThreshold
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[endpoint]
	if !ok {
		return false
	}
	return w.Remaining <= threshold
}

// DelayUntilReset returns how long to wait for the endpoint's window to
// reset, plus a fixed one-second safety buffer. Zero base delay when the
// reset has already passed or the endpoint is unknown.
func (l *UpstreamLimiter) DelayUntilReset(endpoint string) time.Duration {
	l.mu.Lock()
	w, ok := l.windows[endpoint]
	l.mu.Unlock()

	if !ok {
		return resetSafetyBuffer
	}
	delay := w.ResetAt.Sub(l.now())
	if delay < 0 {
		delay = 0
	}
	return delay + resetSafetyBuffer
}

// Reset forgets the observed state for one endpoint
func (l *UpstreamLimiter) Reset(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, endpoint)
}

// ResetAll forgets all observed state
func (l *UpstreamLimiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*RateLimitWindow)
}

// ExecuteWithRetry invokes fn up to MaxRetries times. Before each attempt
// it waits out the endpoint's window when the remaining budget is low.
// Only failures classified as transient capacity errors are retried, after
// an exponentially backed-off delay; any other failure propagates
// immediately, since retrying non-transient failures blindly would repeat
// non-idempotent work. After the budget is exhausted the last observed
// error is returned.
func (l *UpstreamLimiter) ExecuteWithRetry(ctx context.Context, endpoint string, opts RetryOptions, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if l.ShouldBackoff(endpoint, DefaultBackoffThreshold) {
			delay := l.DelayUntilReset(endpoint)
			l.logger.Debug("Backing off before upstream call",
				"endpoint", endpoint,
				"delay", delay,
				"attempt", attempt)
			l.recordBackoff(delay)
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRateLimitError(err) {
			return err
		}
		lastErr = err

		l.logger.Warn("Upstream call throttled",
			"endpoint", endpoint,
			"attempt", attempt,
			"max_retries", opts.MaxRetries,
			"error", err)
		if l.metrics != nil {
			l.metrics.UpstreamRetries.Add(ctx, 1,
				metric.WithAttributes(attribute.String("endpoint", endpoint)))
		}

		if attempt < opts.MaxRetries {
			delay := CalculateBackoff(attempt, opts)
			l.recordBackoff(delay)
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return lastErr
}

func (l *UpstreamLimiter) recordBackoff(delay time.Duration) {
	if l.metrics != nil {
		l.metrics.UpstreamBackoffDuration.Record(context.Background(),
			float64(delay.Milliseconds()))
	}
}
