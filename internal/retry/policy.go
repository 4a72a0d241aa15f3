package retry

import (
	"math/rand"
	"strings"
	"time"
)

const (
	DefaultMaxRetries = 5

	backoffCapMinutes = 30
	jitterFraction    = 0.10
)

// transientReasons are telephony outcomes worth another attempt.
var transientReasons = map[string]struct{}{
	"no-answer": {},
	"busy":      {},
	"failed":    {},
	"timeout":   {},
}

// transientTokens are service-level error markers worth another attempt.
var transientTokens = []string{
	"network_error",
	"twilio_timeout",
	"ai_service_error",
}

// permanentTokens mark numbers that must never be re-dialed. They win over
// any transient marker present in the same failure.
var permanentTokens = []string{
	"invalid_phone_number",
	"do_not_call",
	"customer_requested_removal",
	"compliance_violation",
	"permanent_failure",
}

// Decision is the outcome of a retry policy evaluation. Delay is the backoff
// ahead of the attempt being scheduled, so it is computed from the count the
// record will carry after the increment.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy decides whether a failed call attempt is re-queued and with what
// backoff. The zero value is not usable; construct with NewPolicy.
type Policy struct {
	MaxRetries int
	jitter     func() float64
}

func NewPolicy(maxRetries int) Policy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return Policy{MaxRetries: maxRetries, jitter: rand.Float64}
}

// WithJitterSource overrides the jitter draw; tests use a fixed source.
func (p Policy) WithJitterSource(fn func() float64) Policy {
	p.jitter = fn
	return p
}

// Decide classifies one failure. Unknown reasons fail closed: an unclassified
// error is never retried, so a misbehaving upstream cannot cause a dial loop.
func (p Policy) Decide(failureReason, errorMessage string, retryCount int) Decision {
	reason := strings.ToLower(strings.TrimSpace(failureReason))
	message := strings.ToLower(strings.TrimSpace(errorMessage))

	for _, tok := range permanentTokens {
		if strings.Contains(reason, tok) || strings.Contains(message, tok) {
			return Decision{}
		}
	}

	if retryCount >= p.MaxRetries {
		return Decision{}
	}

	if _, ok := transientReasons[reason]; ok {
		return Decision{Retry: true, Delay: p.Backoff(retryCount + 1)}
	}
	// Service-level markers arrive either as the reason itself (relay and
	// dispatcher failures) or buried in a provider error message.
	for _, tok := range transientTokens {
		if strings.Contains(reason, tok) || strings.Contains(message, tok) {
			return Decision{Retry: true, Delay: p.Backoff(retryCount + 1)}
		}
	}

	return Decision{}
}

// Backoff returns min(2^retryCount, 30) minutes plus up to 10% jitter.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	base := 1
	for i := 0; i < retryCount; i++ {
		base *= 2
		if base >= backoffCapMinutes {
			base = backoffCapMinutes
			break
		}
	}
	baseDelay := time.Duration(base) * time.Minute
	jitter := time.Duration(p.jitter() * jitterFraction * float64(baseDelay))
	return baseDelay + jitter
}

// PriorityForRetry lowers dispatch priority on each attempt so a persistently
// failing number cannot starve fresh calls.
func PriorityForRetry(retryCount int) int {
	p := 10 - retryCount
	if p < 1 {
		return 1
	}
	return p
}
