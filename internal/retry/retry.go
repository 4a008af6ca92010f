// Package retry extracts the generic with_retry(op, policy) combinator that
// spec design notes call for, replacing the ad-hoc retry-with-sleep the
// teacher inlines in its asyncWriteWorker (ledger.go). Retry policy is data
// (a Policy value), not code duplicated at every call site.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Policy describes an exponential backoff schedule. Zero value is invalid;
// use one of the constructors below.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxAttempts     int
}

// BusReconnectPolicy matches spec §5: "bus connection attempts use
// exponential backoff (1s, 2s, 4s, up to 5 attempts)".
func BusReconnectPolicy() Policy {
	return Policy{InitialInterval: time.Second, MaxInterval: 4 * time.Second, MaxAttempts: 5}
}

// GatewayEnqueuePolicy matches spec §4.2 step 4: "retry up to 3 times with
// 1s backoff".
func GatewayEnqueuePolicy() Policy {
	return Policy{InitialInterval: time.Second, MaxInterval: time.Second, MaxAttempts: 3}
}

// LocalTransientPolicy matches spec §7: "transient network errors are
// retried locally (3x, exponential)".
func LocalTransientPolicy() Policy {
	return Policy{InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second, MaxAttempts: 3}
}

func (p Policy) toBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = p.MaxElapsedTime
	} else {
		eb.MaxElapsedTime = 0 // bounded instead by MaxAttempts via WithMaxRetries
	}
	var bo backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
	}
	return bo
}

// Do runs op under policy, retrying on every returned error until success,
// a non-retriable Permanent error, or the attempt budget is exhausted.
func Do(ctx context.Context, policy Policy, op func(context.Context) error) error {
	return backoff.Retry(func() error {
		return op(ctx)
	}, backoff.WithContext(policy.toBackoff(), ctx))
}

// Breaker wraps a dependency (KV, bus, durable store) so sustained failure
// trips the circuit and callers fail fast with gobreaker.ErrOpenState
// instead of retrying forever, per spec §7. No caller in this module
// routes its calls through a Breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a circuit breaker named after the dependency it guards.
// It opens after 5 consecutive failures and probes again after 30s, values
// chosen to tolerate normal blip-level flakiness while still tripping well
// inside a caller's request budget.
func NewBreaker(name string) *Breaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Do executes op through the circuit breaker, returning its result or
// gobreaker.ErrOpenState / gobreaker.ErrTooManyRequests when tripped.
func (b *Breaker) Do(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}
