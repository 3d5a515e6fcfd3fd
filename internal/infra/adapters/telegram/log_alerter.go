package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/infra/metrics"
)

var _ adapter.Alerter = (*LogAlerter)(nil)

// LogAlerter is the fallback when no operator chat is configured.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: logger.With().Str("component", "LogAlerter").Logger()}
}

func (a *LogAlerter) Alert(ctx context.Context, an adapter.Anomaly) error {
	metrics.IncAnomaly(string(an.Kind))
	a.log.Error().
		Str("kind", string(an.Kind)).
		Str("payment_id", an.PaymentID).
		Str("user_id", an.UserID).
		Str("detail", an.Detail).
		Msg("payment anomaly")
	return nil
}
