package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// PollUntil invokes check every interval until it reports done, the timeout
// elapses, or the context is cancelled. A check error aborts the poll
// immediately.
func PollUntil(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out after %s waiting for condition", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForState polls a manager until the instance reaches the wanted state
func WaitForState(ctx context.Context, m Manager, ref InstanceRef, want InstanceState, timeout time.Duration) error {
	return PollUntil(ctx, 5*time.Second, timeout, func(ctx context.Context) (bool, error) {
		instance, err := m.Describe(ctx, ref)
		if err != nil {
			return false, err
		}
		return instance.State == want, nil
	})
}
