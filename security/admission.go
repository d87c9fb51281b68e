package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/observekit/mcp-authcore/instrumentation"
)

const (
	// DefaultTokensPerMinute is the default per-caller admission rate
	DefaultTokensPerMinute = 60

	// DefaultSweepInterval is how often the idle-bucket sweep runs
	DefaultSweepInterval = 5 * time.Minute

	// DefaultIdleTimeout is how long a bucket may sit unused before the
	// sweep evicts it
	DefaultIdleTimeout = 10 * time.Minute
)

// RateLimitError signals a rejected admission. It carries the retry-after
// hint callers translate into a protocol-level throttling response.
type RateLimitError struct {
	CallerID   string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for caller %q: retry after %s", e.CallerID, e.RetryAfter)
}

// callerBucket tracks one caller's token bucket and its last use
type callerBucket struct {
	limiter         *rate.Limiter
	tokensPerMinute int
	lastAccess      time.Time
}

// AdmissionController is the per-caller token-bucket admission gate applied
// earliest in the request path, before a request consumes any downstream
// resources. Buckets are created full on first use, sized to the configured
// tokens-per-minute, and refill continuously; a per-call override may raise
// a caller's rate but never lower it.
type AdmissionController struct {
	mu      sync.Mutex
	buckets map[string]*callerBucket

	tokensPerMinute int
	sweepInterval   time.Duration
	idleTimeout     time.Duration
	logger          *slog.Logger
	auditor         *Auditor
	metrics         *instrumentation.Metrics

	// now is the clock; replaced in tests for deterministic refills
	now func() time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// NewAdmissionController creates an admission controller with default sweep
// settings and starts its background sweep goroutine. Call Stop when done.
func NewAdmissionController(tokensPerMinute int, logger *slog.Logger) *AdmissionController {
	return NewAdmissionControllerWithConfig(tokensPerMinute, DefaultSweepInterval, DefaultIdleTimeout, logger)
}

// NewAdmissionControllerWithConfig creates an admission controller with
// custom sweep interval and idle timeout
func NewAdmissionControllerWithConfig(tokensPerMinute int, sweepInterval, idleTimeout time.Duration, logger *slog.Logger) *AdmissionController {
	if logger == nil {
		logger = slog.Default()
	}
	if tokensPerMinute <= 0 {
		tokensPerMinute = DefaultTokensPerMinute
		logger.Warn("Invalid tokensPerMinute, using default", "tokens_per_minute", tokensPerMinute)
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	c := &AdmissionController{
		buckets:         make(map[string]*callerBucket),
		tokensPerMinute: tokensPerMinute,
		sweepInterval:   sweepInterval,
		idleTimeout:     idleTimeout,
		logger:          logger,
		now:             time.Now,
		stopSweep:       make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// SetAuditor attaches a security auditor for admission rejections
func (c *AdmissionController) SetAuditor(auditor *Auditor) {
	c.auditor = auditor
}

// SetInstrumentation attaches OpenTelemetry metrics
func (c *AdmissionController) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		c.metrics = inst.Metrics()
	}
}

// perMinute converts a tokens-per-minute rate to a rate.Limit
func perMinute(tokens int) rate.Limit {
	return rate.Limit(float64(tokens) / 60.0)
}

// Check admits or rejects one request for the caller, consuming one token
// on admission and nothing on rejection. overridePerMinute raises the
// caller's rate for this and future calls when it exceeds the current one;
// lower values are ignored.
func (c *AdmissionController) Check(callerID string, overridePerMinute int) bool {
	allowed, _ := c.check(callerID, overridePerMinute)
	return allowed
}

// Enforce is Check with no valid continuation on rejection: it returns a
// typed *RateLimitError carrying the delay until the next whole token.
func (c *AdmissionController) Enforce(callerID string, overridePerMinute int) error {
	allowed, retryAfter := c.check(callerID, overridePerMinute)
	if allowed {
		return nil
	}

	c.logger.Debug("Admission rejected",
		"caller_id", callerID,
		"retry_after", retryAfter)
	if c.auditor != nil {
		c.auditor.LogAdmissionRejected(callerID, retryAfter)
	}
	if c.metrics != nil {
		c.metrics.AdmissionRetryAfter.Record(context.Background(),
			float64(retryAfter.Milliseconds()))
	}

	return &RateLimitError{CallerID: callerID, RetryAfter: retryAfter}
}

func (c *AdmissionController) check(callerID string, overridePerMinute int) (bool, time.Duration) {
	now := c.now()

	c.mu.Lock()
	bucket, exists := c.buckets[callerID]
	if !exists {
		tokens := c.tokensPerMinute
		if overridePerMinute > tokens {
			tokens = overridePerMinute
		}
		bucket = &callerBucket{
			limiter:         rate.NewLimiter(perMinute(tokens), tokens),
			tokensPerMinute: tokens,
		}
		c.buckets[callerID] = bucket
	} else if overridePerMinute > bucket.tokensPerMinute {
		// Overrides only ever raise a caller's rate.
		bucket.tokensPerMinute = overridePerMinute
		bucket.limiter.SetLimitAt(now, perMinute(overridePerMinute))
		bucket.limiter.SetBurstAt(now, overridePerMinute)
	}
	bucket.lastAccess = now

	if bucket.limiter.AllowN(now, 1) {
		c.mu.Unlock()
		c.recordDecision(true)
		return true, 0
	}

	// Rejected without consuming; reserve-and-cancel yields the delay
	// until one whole token is available.
	reservation := bucket.limiter.ReserveN(now, 1)
	retryAfter := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	c.mu.Unlock()

	c.recordDecision(false)
	return false, retryAfter
}

func (c *AdmissionController) recordDecision(allowed bool) {
	if c.metrics != nil {
		c.metrics.AdmissionDecisions.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Bool("allowed", allowed)))
	}
}

// Reset removes the bucket for one caller
func (c *AdmissionController) Reset(callerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, callerID)
}

// ResetAll removes every bucket
func (c *AdmissionController) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets = make(map[string]*callerBucket)
}

// Size returns the number of tracked callers
func (c *AdmissionController) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// sweepLoop periodically evicts idle buckets to bound memory in
// long-running multi-tenant processes
func (c *AdmissionController) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

// sweep evicts buckets idle longer than the idle timeout. The lock is
// released between candidate selection and each removal so the sweep never
// holds up concurrent admission checks for its full duration; each removal
// re-checks lastAccess in case the caller came back in between.
func (c *AdmissionController) sweep() {
	now := c.now()

	c.mu.Lock()
	candidates := make([]string, 0)
	for id, bucket := range c.buckets {
		if now.Sub(bucket.lastAccess) > c.idleTimeout {
			candidates = append(candidates, id)
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, id := range candidates {
		c.mu.Lock()
		if bucket, ok := c.buckets[id]; ok && now.Sub(bucket.lastAccess) > c.idleTimeout {
			delete(c.buckets, id)
			removed++
		}
		c.mu.Unlock()
	}

	if removed > 0 {
		c.logger.Debug("Admission bucket sweep completed",
			"removed", removed,
			"remaining", c.Size())
	}
}

// Stop terminates the background sweep goroutine
func (c *AdmissionController) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopSweep)
	})
}
