package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/infra/logging"
)

// Outcome is what every lifecycle operation hands back to its caller.
// Business failures (cancelled payment, gateway rejection) come back as
// Success=false with a nil error; infrastructure failures are errors.
type Outcome struct {
	Success      bool
	Message      string
	PaymentID    string
	CleanedCount int
}

func success(paymentID, msg string) *Outcome {
	return &Outcome{Success: true, Message: msg, PaymentID: paymentID}
}

func failure(paymentID, msg string) *Outcome {
	return &Outcome{Success: false, Message: msg, PaymentID: paymentID}
}

// ApproveRequest is the server-approval input relayed by the client.
type ApproveRequest struct {
	PaymentID string
	UserID    string
	Amount    decimal.Decimal
	Memo      string
	Metadata  model.Metadata
}

// CompleteRequest is the server-completion input relayed by the client.
type CompleteRequest struct {
	PaymentID      string
	UserID         string
	SettlementTxID string
}

// User-facing messages.
const (
	MsgApproved          = "Payment approved"
	MsgAlreadyApproved   = "Payment already approved"
	MsgCompleted         = "Payment completed"
	MsgAlreadyCompleted  = "Payment already completed"
	MsgPaymentCancelled  = "Payment was cancelled"
	MsgGatewayRejected   = "Payment was rejected by the payment gateway"
	MsgCleanupDone       = "Stale payments cleaned up"
	StaleCancelReason    = "Payment automatically cancelled due to staleness (>10 minutes old)"
	RejectedCancelReason = "Payment rejected by the payment gateway"
)

// publish sends ev and only logs failures: events never change an outcome.
func publish(ctx context.Context, pub adapter.EventPublisher, log *zerolog.Logger, ev adapter.PaymentEvent) {
	if pub == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logging.With(ctx, log).Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to publish payment event")
	}
}

// alert raises an anomaly and only logs delivery failures.
func alert(ctx context.Context, al adapter.Alerter, log *zerolog.Logger, a adapter.Anomaly) {
	logging.With(ctx, log).Error().
		Str("anomaly", string(a.Kind)).
		Str("payment_id", a.PaymentID).
		Str("user_id", a.UserID).
		Msg(a.Detail)
	if al == nil {
		return
	}
	if err := al.Alert(ctx, a); err != nil {
		logging.With(ctx, log).Warn().Err(err).Str("anomaly", string(a.Kind)).Msg("failed to deliver alert")
	}
}

func componentLogger(logger *zerolog.Logger, name string) *zerolog.Logger {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	l := logger.With().Str("component", name).Logger()
	return &l
}
