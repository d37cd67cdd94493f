package lockmgr

import (
	"context"
	"time"
)

const (
	minPollInterval = 10 * time.Millisecond
	maxPollInterval = 10 * time.Second
)

// RetryOnRace calls fn up to attempts times for as long as it fails with a
// retryable error (a lost race inside the store). Any other result is returned
// immediately.
func RetryOnRace(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); !IsRetryable(err) {
			return err
		}
		log.Debugf("lost race, retrying (%d/%d): %v", i+1, attempts, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// AcquireWait polls AcquireLock until the lock is taken, a non-conflict error
// occurs or ctx is done. The wait between attempts starts at 10ms and doubles up
// to 10s. Lost races are retried like conflicts.
func AcquireWait(ctx context.Context, mgr ILockManager, qname QName, token string, ttl time.Duration) error {
	interval := minPollInterval
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		err := mgr.AcquireLock(ctx, qname, token, ttl)
		if err == nil || !(IsExclusiveLockExists(err) || IsRetryable(err)) {
			return err
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}
