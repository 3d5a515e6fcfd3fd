package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/logging"
	"avante-billing/internal/infra/metrics"
)

// Compile-time check
var _ CompletionUseCase = (*completionUC)(nil)

type CompletionUseCase interface {
	// Complete finalizes an approved payment with its settlement transaction.
	// Unknown or unapproved payments yield domain.ErrNotApproved and are not touched.
	Complete(ctx context.Context, req CompleteRequest) (*Outcome, error)
}

type completionUC struct {
	payments repository.PaymentRepository
	gateway  adapter.PaymentGateway
	events   adapter.EventPublisher
	alerter  adapter.Alerter
	log      *zerolog.Logger
}

func NewCompletionUseCase(
	payments repository.PaymentRepository,
	gateway adapter.PaymentGateway,
	events adapter.EventPublisher,
	alerter adapter.Alerter,
	logger *zerolog.Logger,
) *completionUC {
	return &completionUC{
		payments: payments,
		gateway:  gateway,
		events:   events,
		alerter:  alerter,
		log:      componentLogger(logger, "CompletionUseCase"),
	}
}

func (uc *completionUC) Complete(ctx context.Context, req CompleteRequest) (out *Outcome, err error) {
	ctx = logging.WithPaymentID(logging.WithUserID(ctx, req.UserID), req.PaymentID)
	log := logging.With(ctx, uc.log)
	defer func() { metrics.IncPaymentPhase("complete", phaseOutcome(out, err)) }()

	if strings.TrimSpace(req.PaymentID) == "" || strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SettlementTxID) == "" {
		return nil, fmt.Errorf("%w: paymentId, txid and userId are required", domain.ErrInvalidArgument)
	}

	rec, err := uc.payments.FindByID(ctx, repository.NoTX, req.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotApproved
		}
		return nil, err
	}
	if rec.UserID != req.UserID {
		return nil, fmt.Errorf("%w: payment belongs to another user", domain.ErrInvalidArgument)
	}
	if !rec.Status.Approved {
		return nil, domain.ErrNotApproved
	}

	switch {
	case rec.Status.Completed:
		log.Debug().Msg("payment already completed")
		return success(rec.PaymentID, MsgAlreadyCompleted), nil
	case rec.Status.Cancelled:
		uc.conflict(ctx, rec, req.SettlementTxID)
		return nil, domain.ErrTerminalConflict
	}

	if _, err := uc.payments.RecordSettlementTx(ctx, repository.NoTX, rec.PaymentID, req.SettlementTxID); err != nil {
		return nil, err
	}

	if gerr := uc.gateway.Complete(ctx, rec.PaymentID, req.SettlementTxID); gerr != nil {
		ge, ok := adapter.AsGatewayError(gerr)
		switch {
		case ok && ge.AlreadyInState():
			log.Info().Msg("gateway reports payment already completed")
		case !ok || ge.Transient():
			log.Warn().Err(gerr).Msg("gateway complete failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, gerr)
		default:
			// The settlement may still land, so the record stays unresolved
			// for a retry or for the operator.
			log.Warn().Err(gerr).Msg("gateway rejected completion")
			return failure(rec.PaymentID, MsgGatewayRejected), nil
		}
	}

	changed, err := uc.payments.MarkCompleted(ctx, repository.NoTX, rec.PaymentID, req.SettlementTxID)
	if err != nil {
		return nil, err
	}
	if !changed {
		cur, err := uc.payments.FindByID(ctx, repository.NoTX, rec.PaymentID)
		if err != nil {
			return nil, err
		}
		if cur.Status.Cancelled {
			uc.conflict(ctx, cur, req.SettlementTxID)
			return nil, domain.ErrTerminalConflict
		}
		return success(cur.PaymentID, MsgAlreadyCompleted), nil
	}

	publish(ctx, uc.events, uc.log, adapter.PaymentEvent{
		Type:      adapter.EventPaymentCompleted,
		PaymentID: rec.PaymentID,
		UserID:    rec.UserID,
		Attributes: map[string]string{
			"amount": rec.Amount.String(),
			"txid":   req.SettlementTxID,
		},
	})
	log.Info().Str("txid", req.SettlementTxID).Msg("payment completed")
	return success(rec.PaymentID, MsgCompleted), nil
}

func (uc *completionUC) conflict(ctx context.Context, rec *model.PaymentRecord, txid string) {
	alert(ctx, uc.alerter, uc.log, adapter.Anomaly{
		Kind:      adapter.AnomalyCompletionAfterCancel,
		PaymentID: rec.PaymentID,
		UserID:    rec.UserID,
		Detail:    "completion with settlement " + txid + " arrived for a cancelled payment",
	})
}
