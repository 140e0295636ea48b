package kafkaadmin

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// callGuard wraps every cluster RPC in a circuit breaker plus a bounded
// exponential retry, replacing the teacher's hand-rolled pkg/resilience
// state machines with the ecosystem equivalents (SPEC_FULL.md §9
// "Ambient-stack swap").
type callGuard struct {
	breaker *gobreaker.CircuitBreaker
	maxWait time.Duration
}

func newCallGuard(name string, maxWait time.Duration) *callGuard {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &callGuard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		maxWait: maxWait,
	}
}

// run retries fn with exponential backoff bounded by g.maxWait, the whole
// attempt sequence itself gated by the circuit breaker so a broken cluster
// fails fast instead of retrying into a dead admin connection.
func (g *callGuard) run(ctx context.Context, fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = g.maxWait
		b := backoff.WithContext(backoff.WithMaxRetries(eb, 4), ctx)
		return nil, backoff.Retry(fn, b)
	})
	return err
}
