// Package waitfor replaces ad hoc timers with one polling primitive that honours
// context cancellation.
package waitfor

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the condition did not hold before the deadline
var ErrTimeout = errors.New("condition not met before timeout")

// Predicate reports whether the awaited condition holds. An error aborts the wait.
type Predicate func(ctx context.Context) (bool, error)

// Condition polls pred every interval until it holds, the timeout elapses or ctx
// is done. between runs after every failed poll (layout nudges and the like).
func Condition(ctx context.Context, pred Predicate, timeout, interval time.Duration, between func(context.Context)) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := pred(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		if between != nil {
			between(ctx)
		}
		if err := Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Sleep pauses for d unless ctx is done first.
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
