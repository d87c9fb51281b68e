package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/observekit/mcp-authcore/internal/testutil"
)

func newTestLimiter(t *testing.T) (*UpstreamLimiter, *testutil.MockTime) {
	t.Helper()
	clock := testutil.NewMockTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewUpstreamLimiter(discardLogger())
	l.now = clock.Now
	return l, clock
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "throttle error", err: &ThrottleError{Endpoint: "/device/devices", StatusCode: 429}, want: true},
		{name: "wrapped throttle error", err: fmt.Errorf("calling api: %w", &ThrottleError{Endpoint: "/alert/alerts"}), want: true},
		{name: "status text fallback", err: errors.New("unexpected status 429"), want: true},
		{name: "phrase fallback", err: errors.New("Rate Limit exceeded, slow down"), want: true},
		{name: "unrelated error", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimitError(tt.err); got != tt.want {
				t.Errorf("IsRateLimitError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestThrottleErrorUnwrap(t *testing.T) {
	cause := errors.New("too many requests")
	err := &ThrottleError{Endpoint: "/device/devices", StatusCode: 429, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("ThrottleError should unwrap to its cause")
	}
	if err.Error() == "" || (&ThrottleError{Endpoint: "/x", StatusCode: 429}).Error() == "" {
		t.Error("Error() should describe the failure with and without a cause")
	}
}

func TestCalculateBackoff(t *testing.T) {
	opts := RetryOptions{}

	wantBase := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}

	for i, base := range wantBase {
		attempt := i + 1
		got := CalculateBackoff(attempt, opts)
		maxWant := time.Duration(float64(base) * (1 + maxJitterFraction))
		if got < base || got > maxWant {
			t.Errorf("CalculateBackoff(%d) = %s, want in [%s, %s]", attempt, got, base, maxWant)
		}
	}

	if got := CalculateBackoff(0, opts); got < time.Second || got > time.Duration(float64(time.Second)*1.1) {
		t.Errorf("CalculateBackoff(0) = %s, want it treated as attempt 1", got)
	}
}

func TestObserveAndWindow(t *testing.T) {
	l, clock := newTestLimiter(t)

	l.Observe("/device/devices", 500, 120, 60)

	w, ok := l.Window("/device/devices")
	if !ok {
		t.Fatal("window should exist after Observe")
	}
	if w.Limit != 500 || w.Remaining != 120 || w.WindowSeconds != 60 {
		t.Errorf("window = %+v", w)
	}
	if !w.ObservedAt.Equal(clock.Now()) {
		t.Errorf("ObservedAt = %s, want %s", w.ObservedAt, clock.Now())
	}
	if !w.ResetAt.Equal(clock.Now().Add(60 * time.Second)) {
		t.Errorf("ResetAt = %s, want observation plus window", w.ResetAt)
	}

	if _, ok := l.Window("/unknown"); ok {
		t.Error("unknown endpoint should have no window")
	}
}

func TestUpdateFromHeaders(t *testing.T) {
	l, _ := newTestLimiter(t)

	headers := http.Header{}
	headers.Set(HeaderRateLimitLimit, "500")
	headers.Set(HeaderRateLimitRemaining, "42")
	headers.Set(HeaderRateLimitWindow, "60")
	l.UpdateFromHeaders("/alert/alerts", headers)

	w, ok := l.Window("/alert/alerts")
	if !ok || w.Limit != 500 || w.Remaining != 42 || w.WindowSeconds != 60 {
		t.Errorf("window = %+v, ok = %v", w, ok)
	}

	// Responses without the full header set are ignored.
	partial := http.Header{}
	partial.Set(HeaderRateLimitLimit, "500")
	l.UpdateFromHeaders("/website/websites", partial)
	if _, ok := l.Window("/website/websites"); ok {
		t.Error("partial headers should not record a window")
	}
}

func TestShouldBackoff(t *testing.T) {
	l, _ := newTestLimiter(t)

	tests := []struct {
		name      string
		remaining int
		threshold int
		want      bool
	}{
		{name: "plenty left", remaining: 100, threshold: 10, want: false},
		{name: "just above threshold", remaining: 11, threshold: 10, want: false},
		{name: "at threshold", remaining: 10, threshold: 10, want: true},
		{name: "below threshold", remaining: 3, threshold: 10, want: true},
		{name: "default threshold", remaining: 10, threshold: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l.Observe("/device/devices", 500, tt.remaining, 60)
			if got := l.ShouldBackoff("/device/devices", tt.threshold); got != tt.want {
				t.Errorf("ShouldBackoff(remaining=%d, threshold=%d) = %v, want %v", tt.remaining, tt.threshold, got, tt.want)
			}
		})
	}

	if l.ShouldBackoff("/unknown", 10) {
		t.Error("unknown endpoint should never trigger backoff")
	}
}

func TestDelayUntilReset(t *testing.T) {
	l, clock := newTestLimiter(t)

	l.Observe("/device/devices", 500, 5, 60)
	if got := l.DelayUntilReset("/device/devices"); got != 60*time.Second+resetSafetyBuffer {
		t.Errorf("DelayUntilReset = %s, want window plus safety buffer", got)
	}

	clock.Advance(61 * time.Second)
	if got := l.DelayUntilReset("/device/devices"); got != resetSafetyBuffer {
		t.Errorf("DelayUntilReset after reset = %s, want just the safety buffer", got)
	}

	if got := l.DelayUntilReset("/unknown"); got != resetSafetyBuffer {
		t.Errorf("DelayUntilReset for unknown endpoint = %s, want just the safety buffer", got)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(t)

	l.Observe("/a", 100, 50, 60)
	l.Observe("/b", 100, 50, 60)

	l.Reset("/a")
	if _, ok := l.Window("/a"); ok {
		t.Error("Reset should forget the endpoint")
	}
	if _, ok := l.Window("/b"); !ok {
		t.Error("Reset should not touch other endpoints")
	}

	l.ResetAll()
	if _, ok := l.Window("/b"); ok {
		t.Error("ResetAll should forget every endpoint")
	}
}

func TestExecuteWithRetry_SuccessFirstAttempt(t *testing.T) {
	l, _ := newTestLimiter(t)

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "/device/devices", RetryOptions{}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteWithRetry_ExhaustsBudgetOnThrottle(t *testing.T) {
	l, _ := newTestLimiter(t)

	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "/device/devices", RetryOptions{}, func(ctx context.Context) error {
		calls++
		return &ThrottleError{Endpoint: "/device/devices", StatusCode: 429}
	})

	var throttle *ThrottleError
	if !errors.As(err, &throttle) {
		t.Fatalf("error = %v, want the last throttle error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want the default budget of 3", calls)
	}
	// Backoff runs between attempts only, never after the last one.
	if len(slept) != 2 {
		t.Fatalf("backoff sleeps = %d, want 2", len(slept))
	}
	if slept[0] < time.Second || slept[1] < 2*time.Second {
		t.Errorf("backoff delays = %v, want exponential growth from 1s", slept)
	}
}

func TestExecuteWithRetry_SucceedsAfterRetry(t *testing.T) {
	l, _ := newTestLimiter(t)
	l.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "/alert/alerts", RetryOptions{}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &ThrottleError{Endpoint: "/alert/alerts", StatusCode: 429}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteWithRetry_NonTransientFailsFast(t *testing.T) {
	l, _ := newTestLimiter(t)

	cause := errors.New("bad request")
	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "/device/devices", RetryOptions{}, func(ctx context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want the original failure", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1; non-transient failures must not be retried", calls)
	}
}

func TestExecuteWithRetry_PreemptiveBackoff(t *testing.T) {
	l, _ := newTestLimiter(t)

	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	// Remaining budget at the threshold forces a wait before the call.
	l.Observe("/device/devices", 500, 5, 60)

	err := l.ExecuteWithRetry(context.Background(), "/device/devices", RetryOptions{}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("backoff sleeps = %d, want 1", len(slept))
	}
	if slept[0] != 60*time.Second+resetSafetyBuffer {
		t.Errorf("preemptive delay = %s, want the window reset delay", slept[0])
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	l, _ := newTestLimiter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := l.ExecuteWithRetry(ctx, "/device/devices", RetryOptions{}, func(ctx context.Context) error {
		calls++
		return &ThrottleError{Endpoint: "/device/devices", StatusCode: 429}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1; cancellation should stop the retry loop", calls)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, 0); err != nil {
		t.Errorf("zero delay should return immediately, got %v", err)
	}
	if err := sleepContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context should abort the sleep, got %v", err)
	}
}
