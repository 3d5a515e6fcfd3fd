package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the backend calls of one phase. Delays grow linearly:
// InitialDelay, InitialDelay+DelayStep, ...
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	DelayStep    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 2 * time.Second, DelayStep: time.Second}
}

// Do runs op until it succeeds, returns a backoff.Permanent error, runs out
// of attempts or ctx ends. notify is called before every retry and may be nil.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(err error, next time.Duration)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{initial: p.InitialDelay, step: p.DelayStep}, uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotify(func() error { return op(ctx) }, b, notify)
}

type linearBackOff struct {
	initial time.Duration
	step    time.Duration
	n       int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.initial + time.Duration(b.n)*b.step
	b.n++
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }
