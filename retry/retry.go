// Package retry runs one logical LLM call in bounded attempts under a named
// policy.
//
// A Failure whose code is retryable, or a hard error whose code is retryable
// (a connection fault), triggers another attempt. Everything else ends the
// call immediately. For streams only the opening is retried: once a stream
// has been handed to the caller it is never restarted.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// CallFunc performs one attempt of a single-shot call.
type CallFunc func(ctx context.Context) (llm.Result, error)

// OpenFunc performs one attempt at opening a stream.
type OpenFunc func(ctx context.Context) (llm.ResponseStream, error)

// Call runs attempt under policy and returns the last outcome. A nil policy
// makes exactly one attempt.
func Call(ctx context.Context, policy *Policy, attempt CallFunc, logger zerolog.Logger) (llm.Result, error) {
	var result llm.Result
	attempts := 0

	op := func() error {
		attempts++
		r, err := attempt(ctx)
		if err != nil {
			result = llm.Result{}
			if !llm.IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		if r.Failure != nil && r.Failure.Code.Retryable() {
			return &llm.FailureError{Response: r.Failure}
		}
		return nil
	}

	err := backoff.RetryNotify(op, newBackOff(ctx, policy), notify(logger, policy, &attempts))
	if err == nil {
		return result, nil
	}

	// Retries exhausted on a Failure: the Failure is the outcome.
	var failure *llm.FailureError
	if errors.As(err, &failure) && result.Failure == failure.Response {
		logger.Debug().
			Int("attempts", attempts).
			Str("code", failure.Response.Code.String()).
			Msg("Retries exhausted")
		return result, nil
	}
	return llm.Result{}, err
}

// Stream opens a stream under policy. Only the opening is retried.
func Stream(ctx context.Context, policy *Policy, open OpenFunc, logger zerolog.Logger) (llm.ResponseStream, error) {
	var stream llm.ResponseStream
	attempts := 0

	op := func() error {
		attempts++
		s, err := open(ctx)
		if err != nil {
			if !llm.IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		stream = s
		return nil
	}

	if err := backoff.RetryNotify(op, newBackOff(ctx, policy), notify(logger, policy, &attempts)); err != nil {
		return nil, err
	}
	return stream, nil
}

func newBackOff(ctx context.Context, policy *Policy) backoff.BackOff {
	if policy == nil {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(policy.NewBackOff(), ctx)
}

func notify(logger zerolog.Logger, policy *Policy, attempts *int) backoff.Notify {
	return func(err error, next time.Duration) {
		logger.Warn().
			Str("policy", policy.Name).
			Int("attempt", *attempts).
			Int("max_retries", policy.MaxRetries).
			Err(err).
			Dur("next_delay", next).
			Msg("Call failed. Retrying after delay")
	}
}
