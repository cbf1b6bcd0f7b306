package node

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/minhtran241/edge-computing-models/internal/stream"
)

const retryBase = 200 * time.Millisecond

// dialWithRetry retries connection errors with exponential backoff. Other
// errors, and cancellation, end the attempt immediately.
func dialWithRetry(ctx context.Context, d stream.Dialer, address, deviceID string, retries int, logger *slog.Logger) (stream.Session, error) {
	backoff, err := retry.NewExponential(retryBase)
	if err != nil {
		return nil, err
	}
	backoff = retry.WithCappedDuration(5*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(max(retries, 0)), backoff)

	var sess stream.Session
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := d.Dial(ctx, address, deviceID)
		if err != nil {
			if errors.Is(err, stream.ErrConnection) && ctx.Err() == nil {
				logger.Warn("connect failed, retrying", "address", address, "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}
