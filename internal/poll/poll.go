// internal/poll/poll.go
package poll

import (
	"context"
	"time"
)

// Policy bounds a retry or polling loop by attempt count. Wall-clock deadlines
// are not used; a loop runs at most MaxAttempts checks.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	// Multiplier grows the delay linearly with the attempt number:
	// 0 keeps a fixed Interval, 1 gives attempt*Interval.
	Multiplier float64
}

// Default policies.
var (
	// Submit is the retry policy for broadcasting transactions.
	Submit = Policy{MaxAttempts: 3, Interval: 2 * time.Second, Multiplier: 1}
	// Confirm waits for a known transaction's receipt.
	Confirm = Policy{MaxAttempts: 30, Interval: 2 * time.Second}
	// State polls contract reads until they reflect an expected change.
	State = Policy{MaxAttempts: 10, Interval: 2 * time.Second}
	// Claim drives the claim eligibility checks on a result screen.
	Claim = Policy{MaxAttempts: 15, Interval: 2 * time.Second}
)

// Immediate is a zero-delay policy, used by tests.
func Immediate(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// Delay returns the wait before the next check after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scale := 1 + p.Multiplier*float64(attempt-1)
	return time.Duration(float64(p.Interval) * scale)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Predicate reports whether the awaited condition holds. An error counts as
// "not yet" and is retried.
type Predicate func(ctx context.Context) (bool, error)

// Until checks pred up to MaxAttempts times, sleeping between checks. It
// returns true as soon as pred holds and false once the attempts are spent;
// a false result is ambiguous, not a failure. The only error returned is the
// context's.
func Until(ctx context.Context, p Policy, pred Predicate) (bool, error) {
	n := p.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		ok, err := pred(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if err == nil && ok {
			return true, nil
		}
		if attempt == n {
			break
		}
		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Retry runs fn up to MaxAttempts times until it succeeds and returns the last
// error otherwise. attempt is 1-based.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	n := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		if lastErr = fn(ctx, attempt); lastErr == nil {
			return nil
		}
		if attempt == n {
			break
		}
		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
