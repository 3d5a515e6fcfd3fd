package events

import (
	"context"

	"github.com/rs/zerolog"

	"avante-billing/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*LogPublisher)(nil)

// LogPublisher is used when no broker is configured; events only reach the log.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger *zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.With().Str("component", "LogPublisher").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, ev adapter.PaymentEvent) error {
	p.log.Info().
		Str("type", string(ev.Type)).
		Str("payment_id", ev.PaymentID).
		Str("user_id", ev.UserID).
		Interface("attributes", ev.Attributes).
		Msg("payment event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
