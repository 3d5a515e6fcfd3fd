package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"avante-billing/internal/config"
	"avante-billing/internal/infra/redis"
)

const sweepLockKey = "lock:stale-payment-sweep"

// Sweeper is the part of the sweeper use case the job drives.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// Locker keeps concurrent replicas from sweeping at the same time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// StaleSweeper periodically cancels abandoned payments of every user.
type StaleSweeper struct {
	interval time.Duration
	timeout  time.Duration
	sweeper  Sweeper
	locker   Locker // optional
	log      *zerolog.Logger
}

func NewStaleSweeper(cfg config.SweeperConfig, sweeper Sweeper, locker Locker, logger *zerolog.Logger) *StaleSweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	// A run must end before the next tick, or the lock outlives its holder.
	timeout := interval - interval/10
	l := logger.With().Str("component", "StaleSweeper").Logger()
	return &StaleSweeper{
		interval: interval,
		timeout:  timeout,
		sweeper:  sweeper,
		locker:   locker,
		log:      &l,
	}
}

func (w *StaleSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting stale payment sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale payment sweeper")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("stale payment sweep failed")
			}
		}
	}
}

// RunOnce performs a single bounded sweep. It returns 0 without error when
// another replica holds the sweep lock.
func (w *StaleSweeper) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if w.locker != nil {
		token, err := w.locker.TryLock(runCtx, sweepLockKey, w.timeout)
		if err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				w.log.Debug().Msg("sweep already running elsewhere")
				return 0, nil
			}
			return 0, err
		}
		defer func() {
			if err := w.locker.Unlock(context.Background(), sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	n, err := w.sweeper.SweepAll(runCtx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("stale payments cancelled")
	}
	return n, nil
}
