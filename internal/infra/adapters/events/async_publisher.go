package events

import (
	"context"

	"github.com/rs/zerolog"

	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/infra/worker"
)

var _ adapter.EventPublisher = (*AsyncPublisher)(nil)

// AsyncPublisher hands events to a worker pool so a slow broker never holds
// up a payment request. Events are dropped, with a log line, when the pool
// is saturated.
type AsyncPublisher struct {
	inner adapter.EventPublisher
	pool  *worker.Pool
	log   zerolog.Logger
}

// NewAsyncPublisher starts pool and publishes through inner. The workers keep
// ctx's values but not its cancellation: they run until Close drains them.
func NewAsyncPublisher(ctx context.Context, inner adapter.EventPublisher, pool *worker.Pool, logger *zerolog.Logger) *AsyncPublisher {
	pool.Start(context.WithoutCancel(ctx))
	return &AsyncPublisher{
		inner: inner,
		pool:  pool,
		log:   logger.With().Str("component", "AsyncPublisher").Logger(),
	}
}

func (p *AsyncPublisher) Publish(_ context.Context, ev adapter.PaymentEvent) error {
	err := p.pool.Submit(func(ctx context.Context) error {
		return p.inner.Publish(ctx, ev)
	})
	if err != nil {
		p.log.Warn().Err(err).
			Str("type", string(ev.Type)).
			Str("payment_id", ev.PaymentID).
			Msg("dropping payment event")
	}
	return err
}

// Close flushes queued events, then closes the underlying publisher.
func (p *AsyncPublisher) Close() error {
	p.pool.Stop()
	return p.inner.Close()
}
