package flow

import (
	"math/rand"
	"time"
)

// FailurePolicy selects how the engine reacts when a node fails after
// exhausting its retries.
type FailurePolicy int

const (
	// ContinueIndependent keeps executing branches that do not depend on
	// the failed node. Descendants of the failure are cancelled when the
	// run settles, with reason "upstream failure". This is the default.
	ContinueIndependent FailurePolicy = iota

	// FailFast stops dispatching as soon as any node fails: in-flight
	// nodes are interrupted via context cancellation and every
	// non-terminal node moves to CANCELLED.
	FailFast
)

// String returns the policy name for logs and events.
func (p FailurePolicy) String() string {
	if p == FailFast {
		return "fail_fast"
	}
	return "continue_independent"
}

// RetryPolicy defines automatic retry configuration for transient node
// failures.
//
// When a node attempt fails, the policy decides whether the error is
// retryable and how long to wait before the next attempt. Exponential
// backoff with jitter is used to avoid thundering herd problems across
// concurrently retrying nodes.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including
	// the initial attempt). Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The actual delay is computed as: min(BaseDelay * 2^attempt, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay cap for exponential backoff.
	// Zero means no cap.
	MaxDelay time.Duration

	// Retryable is a predicate deciding whether an error is worth
	// retrying. If nil, timeouts are retried and all other errors are
	// considered permanent.
	Retryable func(error) bool
}

// Validate checks if the RetryPolicy configuration is valid.
// Returns ErrInvalidRetryPolicy if any constraints are violated:
//   - MaxAttempts must be >= 1 (1 means no retries, just the initial attempt)
//   - If both MaxDelay and BaseDelay are > 0, then MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// shouldRetry reports whether err warrants another attempt under this
// policy. Timeouts are retryable unless the caller's predicate says
// otherwise.
func (rp *RetryPolicy) shouldRetry(err error) bool {
	if rp.Retryable != nil {
		return rp.Retryable(err)
	}
	return isTimeout(err)
}

// computeBackoff calculates the delay before retrying a failed node
// execution using exponential backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// The exponential component doubles the delay with each retry, reducing
// load on failing services. Jitter randomizes retry timing across
// concurrent nodes so parallel levels do not retry in lockstep.
//
// Parameters:
//   - attempt: Zero-based retry attempt number (0 = first retry).
//   - base: Base delay for the exponential calculation.
//   - maxDelay: Maximum allowed delay; zero disables the cap.
//   - rng: Random number generator for jitter. If nil, the package-level
//     source is used.
//
// Example delays with base=1s, maxDelay=30s:
//   - attempt 0: 1s + jitter(0, 1s)
//   - attempt 1: 2s + jitter(0, 1s)
//   - attempt 3: 8s + jitter(0, 1s)
//   - attempt 10: 30s + jitter(0, 1s) (capped)
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		// Note: Using math/rand for jitter timing, not security-sensitive
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}
