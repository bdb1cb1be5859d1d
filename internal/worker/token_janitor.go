package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredTokenPurger deletes persistent tokens whose expiry has passed.
type ExpiredTokenPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenJanitor periodically removes expired remember-me tokens. Validation
// already rejects them; the janitor only keeps the table small.
type TokenJanitor struct {
	tokens   ExpiredTokenPurger
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenJanitor constructs a janitor. A non-positive interval defaults to one hour.
func NewTokenJanitor(tokens ExpiredTokenPurger, interval time.Duration, logger *zap.Logger) *TokenJanitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenJanitor{tokens: tokens, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (j *TokenJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep deletes expired tokens once and returns how many were removed.
func (j *TokenJanitor) Sweep(ctx context.Context) int64 {
	n, err := j.tokens.DeleteExpired(ctx, j.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Warn("purge expired remember-me tokens", zap.Error(err))
		}
		return 0
	}
	if n > 0 {
		j.logger.Info("purged expired remember-me tokens", zap.Int64("count", n))
	}
	return n
}
