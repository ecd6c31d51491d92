// Package retry runs capability calls with exponential backoff. Only
// *core.TransientCapabilityError failures are retried; every other error is
// returned immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/logging"
)

// Policy configures the backoff schedule.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy retries up to three attempts, backing off 2s..10s.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: 2 * time.Second,
	MaxInterval:     10 * time.Second,
	Multiplier:      2,
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, fails permanently or the policy is exhausted.
func Do[T any](ctx context.Context, p Policy, logger logging.Logger, capability string, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNoOp(logger)
	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !core.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Retrying capability call", "capability", capability, "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
}
