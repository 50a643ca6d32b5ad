package slackbridge

import (
	"context"
	"errors"
	"time"

	"github.com/slack-go/slack"
)

// retryDecision reports whether err is a rate-limit response worth
// retrying.
func retryDecision(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		return true, err
	}
	return false, err
}

func retryAfter(err error) time.Duration {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		return rle.RetryAfter
	}
	return 0
}

// withRetry runs fn up to attempts times while it reports a retryable
// error. The wait is Slack's Retry-After when given, else exponential from
// baseDelay. Waiting stops early when ctx is done.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		wait := retryAfter(err)
		if wait <= 0 {
			wait = baseDelay * time.Duration(1<<i)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}
	return lastErr
}
