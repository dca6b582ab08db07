package workflow

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the caller-side retry loop around conflicting
// transition requests.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts uint64

	// BaseDelay seeds the fibonacci backoff between attempts.
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries conflicts a handful of times with short
// backoff. Suitable for idempotent callers; callers whose requests
// are not safe to replay should use RequestTransition directly and
// decide per conflict.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 25 * time.Millisecond}
}

// RetryTransition runs RequestTransition and retries on conflict
// outcomes, re-reading the instance on each attempt per the engine's
// contract. Denials and errors are returned immediately; a request
// that keeps conflicting past the attempt budget returns the last
// conflict result.
func RetryTransition(ctx context.Context, e *Engine, req Request, policy RetryPolicy) (*Result, error) {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}

	var result *Result
	backoff := retry.WithMaxRetries(policy.MaxAttempts-1, retry.NewFibonacci(policy.BaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := e.RequestTransition(ctx, req)
		if err != nil {
			return err
		}
		result = r
		if r.Outcome == OutcomeConflict {
			return retry.RetryableError(NewConflictError("transition conflicted", nil).WithCode(ErrCodeVersionConflict))
		}
		return nil
	})
	if err != nil {
		// Exhausted attempts on conflicts still yield the conflict
		// result rather than an error.
		if IsConflict(err) && result != nil {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}
