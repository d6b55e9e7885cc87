package hublink

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxReconnectAttempts is the number of retries a Service makes after
// a failed connection attempt before it gives up.
const DefaultMaxReconnectAttempts = 5

// Backoff computes the delay between connection attempts. It is a pure
// function of the attempt count and shared by both retry surfaces: the
// retry loop of Service.Start and the RetryPolicy handed to the transport
// for its automatic reconnects.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff returns the delay policy used when no other is configured:
// one second, doubled on every attempt, capped at 30 seconds.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second}
}

// Delay returns the wait before retry number attempt (zero based). The delay
// grows exponentially from Base and never exceeds Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap || delay <= 0 {
			return b.Cap
		}
	}
	if delay > b.Cap {
		return b.Cap
	}
	return delay
}

// boundedRetryPolicy adapts Backoff to the RetryPolicy the transport
// consults during its automatic reconnect sequence. The sequence ends once
// the retry count exceeds maxAttempts.
type boundedRetryPolicy struct {
	policy      Backoff
	maxAttempts int
}

func (b boundedRetryPolicy) NextRetryDelay(retryContext RetryContext) (time.Duration, bool) {
	if retryContext.PreviousRetryCount > b.maxAttempts {
		return 0, false
	}
	return b.policy.Delay(retryContext.PreviousRetryCount), true
}

// policyBackOff adapts Backoff to the backoff.BackOff consumed by the retry
// loop of Service.Start. NextBackOff returns backoff.Stop once maxAttempts
// delays have been handed out. Reset starts the sequence over.
type policyBackOff struct {
	policy      Backoff
	maxAttempts int
	attempt     int
}

var _ backoff.BackOff = (*policyBackOff)(nil)

func newPolicyBackOff(policy Backoff, maxAttempts int) *policyBackOff {
	return &policyBackOff{policy: policy, maxAttempts: maxAttempts}
}

func (p *policyBackOff) NextBackOff() time.Duration {
	if p.attempt >= p.maxAttempts {
		return backoff.Stop
	}
	delay := p.policy.Delay(p.attempt)
	p.attempt++
	return delay
}

func (p *policyBackOff) Reset() {
	p.attempt = 0
}
