package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"interview-agent/internal/storage"
)

func attempts(maxRetries int) int {
	if maxRetries < 1 {
		return 1
	}
	return maxRetries
}

// putWithRetry tries the write up to maxRetries times with a fixed delay.
func putWithRetry(ctx context.Context, logger *slog.Logger, remote storage.RemoteStore, key string, body []byte, maxRetries int, delay time.Duration) (string, error) {
	total := attempts(maxRetries)
	if delay <= 0 {
		// NewConstant rejects non-positive durations.
		delay = time.Nanosecond
	}
	backoff := retry.WithMaxRetries(uint64(total-1), retry.NewConstant(delay))

	attempt := 0
	var location string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		loc, err := remote.Put(ctx, key, body)
		if err != nil {
			if attempt < total {
				logger.Warn("transcript write failed, retrying", "key", key, "attempt", attempt, "max_attempts", total, "retry_in", delay, "err", err)
			}
			return retry.RetryableError(err)
		}
		location = loc
		return nil
	})
	if err != nil {
		return "", err
	}
	return location, nil
}
