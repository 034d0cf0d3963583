package sheetstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/oisdev/appraisal/pkg/logger"
	"golang.org/x/time/rate"
)

// RetryPolicy is a capped exponential backoff without jitter.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy: 5 attempts, 0.6s first pause, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialDelay: 600 * time.Millisecond, Multiplier: 2}
}

// Delay returns the pause before attempt n+1, where n >= 1 is the attempt
// that just failed.
func (p RetryPolicy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(n-1)))
}

// Caller runs remote store operations under the retry policy and an
// optional outbound rate limit.
type Caller struct {
	policy  RetryPolicy
	limiter *rate.Limiter
}

// NewCaller builds a Caller. A nil limiter disables pacing.
func NewCaller(policy RetryPolicy, limiter *rate.Limiter) *Caller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Caller{policy: policy, limiter: limiter}
}

// Do invokes fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. The last error is returned wrapped with op.
func (c *Caller) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return fn(ctx)
	}, gax.WithRetry(func() gax.Retryer {
		return &backoffRetryer{policy: c.policy, op: op, attempt: 1}
	}))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type backoffRetryer struct {
	policy  RetryPolicy
	op      string
	attempt int
}

func (r *backoffRetryer) Retry(err error) (time.Duration, bool) {
	if !IsTransient(err) || r.attempt >= r.policy.MaxAttempts {
		return 0, false
	}
	pause := r.policy.Delay(r.attempt)
	logger.Warn().
		Err(err).
		Str("op", r.op).
		Int("attempt", r.attempt).
		Dur("pause", pause).
		Msg("transient store error, retrying")
	r.attempt++
	return pause, true
}
