package retry

import (
	"testing"
	"time"
)

func TestDecideMaxRetriesWins(t *testing.T) {
	p := NewPolicy(5)
	for count := 5; count < 10; count++ {
		for _, reason := range []string{"no-answer", "busy", "failed", "timeout", "unknown"} {
			if d := p.Decide(reason, "", count); d.Retry {
				t.Fatalf("Decide(%q, retryCount=%d).Retry = true, want false", reason, count)
			}
		}
	}
}

func TestDecideTransientReasons(t *testing.T) {
	p := NewPolicy(5)
	for _, reason := range []string{"no-answer", "busy", "failed", "timeout"} {
		d := p.Decide(reason, "", 0)
		if !d.Retry {
			t.Fatalf("Decide(%q).Retry = false, want true", reason)
		}
		if d.Delay <= 0 {
			t.Fatalf("Decide(%q).Delay = %v, want positive", reason, d.Delay)
		}
	}
}

func TestDecideTransientErrorTokens(t *testing.T) {
	p := NewPolicy(5)
	cases := []string{
		"upstream NETWORK_ERROR after 3s",
		"twilio_timeout waiting for answer",
		"relay terminated: ai_service_error",
	}
	for _, msg := range cases {
		if d := p.Decide("", msg, 2); !d.Retry {
			t.Fatalf("Decide(errorMessage=%q).Retry = false, want true", msg)
		}
	}
}

func TestDecideTransientTokensInReason(t *testing.T) {
	p := NewPolicy(5)
	for _, reason := range []string{"network_error", "twilio_timeout", "ai_service_error"} {
		if d := p.Decide(reason, "", 0); !d.Retry {
			t.Fatalf("Decide(reason=%q).Retry = false, want true", reason)
		}
	}
}

func TestDecideDelayUsesIncrementedCount(t *testing.T) {
	p := NewPolicy(5).WithJitterSource(func() float64 { return 0.0 })
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 2 * time.Minute},
		{1, 4 * time.Minute},
		{2, 8 * time.Minute},
		{4, 30 * time.Minute},
	}
	for _, tc := range cases {
		d := p.Decide("no-answer", "", tc.retryCount)
		if !d.Retry {
			t.Fatalf("Decide(retryCount=%d).Retry = false, want true", tc.retryCount)
		}
		if d.Delay != tc.want {
			t.Fatalf("Decide(retryCount=%d).Delay = %v, want %v", tc.retryCount, d.Delay, tc.want)
		}
	}
}

func TestDecidePermanentWinsOverTransient(t *testing.T) {
	p := NewPolicy(5)
	cases := []struct {
		reason  string
		message string
	}{
		{"invalid_phone_number", ""},
		{"no-answer", "carrier said invalid_phone_number"},
		{"busy", "DO_NOT_CALL list hit"},
		{"timeout", "customer_requested_removal during network_error"},
		{"", "compliance_violation: ai_service_error"},
		{"permanent_failure", "twilio_timeout"},
	}
	for _, tc := range cases {
		if d := p.Decide(tc.reason, tc.message, 0); d.Retry {
			t.Fatalf("Decide(%q, %q).Retry = true, want false (permanent token must win)", tc.reason, tc.message)
		}
	}
}

func TestDecideUnknownReasonFailsClosed(t *testing.T) {
	p := NewPolicy(5)
	for _, reason := range []string{"", "weird-carrier-code", "completed"} {
		if d := p.Decide(reason, "something novel happened", 0); d.Retry {
			t.Fatalf("Decide(%q).Retry = true, want false", reason)
		}
	}
}

func TestBackoffBoundsAndMonotonicBase(t *testing.T) {
	// Max jitter: the observed delay must still sit in [base, base*1.1].
	pHigh := NewPolicy(5).WithJitterSource(func() float64 { return 1.0 })
	pLow := NewPolicy(5).WithJitterSource(func() float64 { return 0.0 })

	prevBase := time.Duration(0)
	for count := 0; count <= 8; count++ {
		base := pLow.Backoff(count)
		if base < prevBase {
			t.Fatalf("base delay decreased at retryCount=%d: %v < %v", count, base, prevBase)
		}
		prevBase = base

		wantBase := time.Duration(1<<count) * time.Minute
		if wantBase > 30*time.Minute {
			wantBase = 30 * time.Minute
		}
		if base != wantBase {
			t.Fatalf("Backoff(%d) base = %v, want %v", count, base, wantBase)
		}

		high := pHigh.Backoff(count)
		if high < base || high > base+time.Duration(0.1*float64(base)) {
			t.Fatalf("Backoff(%d) with max jitter = %v, want within [%v, %v]", count, high, base, base*11/10)
		}
	}
}

func TestPriorityForRetry(t *testing.T) {
	cases := []struct {
		count int
		want  int
	}{
		{0, 10},
		{1, 9},
		{5, 5},
		{9, 1},
		{12, 1},
	}
	for _, tc := range cases {
		if got := PriorityForRetry(tc.count); got != tc.want {
			t.Fatalf("PriorityForRetry(%d) = %d, want %d", tc.count, got, tc.want)
		}
	}
}
