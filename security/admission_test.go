package security

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/observekit/mcp-authcore/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestController builds a controller with a mock clock and sweep settings
// long enough that the background sweep never fires during a test
func newTestController(t *testing.T, tokensPerMinute int) (*AdmissionController, *testutil.MockTime) {
	t.Helper()
	clock := testutil.NewMockTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewAdmissionControllerWithConfig(tokensPerMinute, time.Hour, time.Hour, discardLogger())
	c.now = clock.Now
	t.Cleanup(c.Stop)
	return c, clock
}

func TestAdmissionController_TokenBucket(t *testing.T) {
	c, clock := newTestController(t, 60)

	for i := 0; i < 60; i++ {
		if !c.Check("caller-1", 0) {
			t.Fatalf("request %d should be admitted from a full bucket", i+1)
		}
	}
	if c.Check("caller-1", 0) {
		t.Fatal("61st request within the same minute should be rejected")
	}

	// One token refills per second at 60 tokens per minute.
	clock.Advance(time.Second)
	if !c.Check("caller-1", 0) {
		t.Fatal("one admission should become available after one second")
	}
	if c.Check("caller-1", 0) {
		t.Fatal("exactly one admission should become available after one second")
	}
}

func TestAdmissionController_CallersAreIndependent(t *testing.T) {
	c, _ := newTestController(t, 2)

	c.Check("caller-1", 0)
	c.Check("caller-1", 0)
	if c.Check("caller-1", 0) {
		t.Fatal("caller-1 should be exhausted")
	}
	if !c.Check("caller-2", 0) {
		t.Error("caller-2 has its own bucket and should be admitted")
	}
}

func TestAdmissionController_Enforce(t *testing.T) {
	c, _ := newTestController(t, 60)

	for i := 0; i < 60; i++ {
		if err := c.Enforce("caller-1", 0); err != nil {
			t.Fatalf("Enforce() request %d error = %v", i+1, err)
		}
	}

	err := c.Enforce("caller-1", 0)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rateErr.CallerID != "caller-1" {
		t.Errorf("CallerID = %q, want %q", rateErr.CallerID, "caller-1")
	}
	// The next whole token is one second out at 60 tokens per minute.
	if rateErr.RetryAfter <= 0 || rateErr.RetryAfter > time.Second+50*time.Millisecond {
		t.Errorf("RetryAfter = %s, want about 1s", rateErr.RetryAfter)
	}
}

func TestAdmissionController_RejectionConsumesNothing(t *testing.T) {
	c, clock := newTestController(t, 60)

	for i := 0; i < 60; i++ {
		c.Check("caller-1", 0)
	}
	// Repeated rejections must not push the refill schedule back.
	for i := 0; i < 5; i++ {
		if c.Check("caller-1", 0) {
			t.Fatal("exhausted bucket should reject")
		}
	}
	clock.Advance(time.Second)
	if !c.Check("caller-1", 0) {
		t.Error("rejections should not delay the next refill")
	}
}

func TestAdmissionController_OverrideRaisesOnly(t *testing.T) {
	c, _ := newTestController(t, 3)

	// A higher override on first contact sizes the new bucket to it.
	for i := 0; i < 10; i++ {
		if !c.Check("caller-big", 10) {
			t.Fatalf("request %d should be admitted under the raised limit", i+1)
		}
	}
	if c.Check("caller-big", 10) {
		t.Error("11th request should exceed the raised limit")
	}

	// A lower override is ignored; the default still applies.
	for i := 0; i < 3; i++ {
		if !c.Check("caller-small", 1) {
			t.Fatalf("request %d should be admitted under the default limit", i+1)
		}
	}
	if c.Check("caller-small", 1) {
		t.Error("4th request should exceed the default limit")
	}

	// Raising an existing bucket sticks; lowering it later does not.
	c.Check("caller-grow", 0)
	c.Check("caller-grow", 6)
	c.mu.Lock()
	got := c.buckets["caller-grow"].tokensPerMinute
	c.mu.Unlock()
	if got != 6 {
		t.Errorf("tokensPerMinute after raise = %d, want 6", got)
	}
	c.Check("caller-grow", 4)
	c.mu.Lock()
	got = c.buckets["caller-grow"].tokensPerMinute
	c.mu.Unlock()
	if got != 6 {
		t.Errorf("tokensPerMinute after lower override = %d, want 6", got)
	}
}

func TestAdmissionController_ResetAndSize(t *testing.T) {
	c, _ := newTestController(t, 1)

	c.Check("caller-1", 0)
	c.Check("caller-2", 0)
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	if c.Check("caller-1", 0) {
		t.Fatal("caller-1 should be exhausted")
	}
	c.Reset("caller-1")
	if !c.Check("caller-1", 0) {
		t.Error("reset caller should get a fresh full bucket")
	}

	c.ResetAll()
	if c.Size() != 0 {
		t.Errorf("Size() after ResetAll = %d, want 0", c.Size())
	}
}

func TestAdmissionController_SweepEvictsIdleBuckets(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewAdmissionControllerWithConfig(60, time.Hour, 10*time.Minute, discardLogger())
	c.now = clock.Now
	defer c.Stop()

	c.Check("idle-caller", 0)
	clock.Advance(5 * time.Minute)
	c.Check("active-caller", 0)

	clock.Advance(6 * time.Minute)
	c.sweep()

	if _, ok := c.buckets["idle-caller"]; ok {
		t.Error("idle bucket should be evicted")
	}
	if _, ok := c.buckets["active-caller"]; !ok {
		t.Error("recently used bucket should survive the sweep")
	}
}

func TestAdmissionController_Defaults(t *testing.T) {
	c := NewAdmissionControllerWithConfig(0, 0, 0, nil)
	defer c.Stop()

	if c.tokensPerMinute != DefaultTokensPerMinute {
		t.Errorf("tokensPerMinute = %d, want %d", c.tokensPerMinute, DefaultTokensPerMinute)
	}
	if c.sweepInterval != DefaultSweepInterval {
		t.Errorf("sweepInterval = %s, want %s", c.sweepInterval, DefaultSweepInterval)
	}
	if c.idleTimeout != DefaultIdleTimeout {
		t.Errorf("idleTimeout = %s, want %s", c.idleTimeout, DefaultIdleTimeout)
	}
}

func TestAdmissionController_StopIsIdempotent(t *testing.T) {
	c := NewAdmissionController(60, discardLogger())
	c.Stop()
	c.Stop()
}

func TestAdmissionController_ConcurrentChecks(t *testing.T) {
	c, _ := newTestController(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			callerID := string(rune('a' + id))
			for j := 0; j < 20; j++ {
				c.Check(callerID, 0)
			}
		}(i)
	}
	wg.Wait()

	if c.Size() != 10 {
		t.Errorf("Size() = %d, want 10", c.Size())
	}
}
