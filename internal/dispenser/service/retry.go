package service

import (
	"context"
	"time"
)

// RetryPolicy bounds how often an operation is attempted and how long to
// wait between attempts. Backoff[i] is the pause after attempt i+1 fails;
// attempts past the end of the schedule reuse its last entry.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// NoRetry makes exactly one attempt.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// ExponentialPolicy doubles the pause from minBackoff up to maxBackoff.
func ExponentialPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	schedule := make([]time.Duration, 0, maxAttempts-1)
	backoff := minBackoff
	for i := 1; i < maxAttempts; i++ {
		schedule = append(schedule, backoff)
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: schedule}
}

// PollPolicy checks every interval for up to total. A non-positive interval
// makes a single attempt.
func PollPolicy(total, every time.Duration) RetryPolicy {
	if every <= 0 || total <= 0 {
		return NoRetry
	}
	return ExponentialPolicy(int(total/every)+1, every, every)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the pause after the given 1-based attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	if i < 0 {
		i = 0
	}
	return p.Backoff[i]
}

// Budget is the longest time a run of the policy can spend, given the
// per-attempt timeout.
func (p RetryPolicy) Budget(perAttempt time.Duration) time.Duration {
	total := time.Duration(p.attempts()) * perAttempt
	for a := 1; a < p.attempts(); a++ {
		total += p.delay(a)
	}
	return total
}

// SleepFunc pauses for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run calls fn until it returns nil, returns an error retryable rejects, or
// the policy is spent. It returns the last error from fn and the number of
// attempts made. A sleep interrupted by ctx stops the loop with fn's last
// error.
func (p RetryPolicy) run(
	ctx context.Context,
	sleep SleepFunc,
	retryable func(error) bool,
	fn func(attempt int) error,
) (int, error) {
	var err error
	max := p.attempts()
	for attempt := 1; ; attempt++ {
		err = fn(attempt)
		if err == nil || !retryable(err) || attempt >= max {
			return attempt, err
		}
		if serr := sleep(ctx, p.delay(attempt)); serr != nil {
			return attempt, err
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
