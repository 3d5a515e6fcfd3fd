package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/logging"
	"avante-billing/internal/infra/metrics"
)

// Compile-time check
var _ ApprovalUseCase = (*approvalUC)(nil)

type ApprovalUseCase interface {
	// Approve records the payment (creating it on first sight), approves it at
	// the gateway and marks it approved. Replays of an approved payment succeed
	// without side effects on the record.
	Approve(ctx context.Context, req ApproveRequest) (*Outcome, error)
}

type approvalUC struct {
	payments repository.PaymentRepository
	gateway  adapter.PaymentGateway
	subs     SubscriptionUseCase
	events   adapter.EventPublisher
	alerter  adapter.Alerter
	log      *zerolog.Logger
}

func NewApprovalUseCase(
	payments repository.PaymentRepository,
	gateway adapter.PaymentGateway,
	subs SubscriptionUseCase,
	events adapter.EventPublisher,
	alerter adapter.Alerter,
	logger *zerolog.Logger,
) *approvalUC {
	return &approvalUC{
		payments: payments,
		gateway:  gateway,
		subs:     subs,
		events:   events,
		alerter:  alerter,
		log:      componentLogger(logger, "ApprovalUseCase"),
	}
}

func (uc *approvalUC) Approve(ctx context.Context, req ApproveRequest) (out *Outcome, err error) {
	ctx = logging.WithPaymentID(logging.WithUserID(ctx, req.UserID), req.PaymentID)
	log := logging.With(ctx, uc.log)
	defer func() { metrics.IncPaymentPhase("approve", phaseOutcome(out, err)) }()

	if strings.TrimSpace(req.PaymentID) == "" || strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: paymentId and userId are required", domain.ErrInvalidArgument)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}

	rec, err := uc.findOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec.UserID != req.UserID {
		return nil, fmt.Errorf("%w: payment belongs to another user", domain.ErrInvalidArgument)
	}

	switch {
	case rec.Status.Cancelled:
		log.Info().Msg("approval requested for a cancelled payment")
		return failure(rec.PaymentID, MsgPaymentCancelled), nil
	case rec.Status.Approved:
		log.Debug().Msg("payment already approved")
		uc.upgrade(ctx, rec)
		return success(rec.PaymentID, MsgAlreadyApproved), nil
	}

	if gerr := uc.gateway.Approve(ctx, rec.PaymentID); gerr != nil {
		ge, ok := adapter.AsGatewayError(gerr)
		switch {
		case ok && ge.AlreadyInState():
			log.Info().Msg("gateway reports payment already approved")
		case !ok || ge.Transient():
			log.Warn().Err(gerr).Msg("gateway approve failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, gerr)
		default:
			log.Warn().Err(gerr).Msg("gateway rejected approval")
			uc.cancelRejected(ctx, rec, ge)
			return failure(rec.PaymentID, MsgGatewayRejected), nil
		}
	}

	changed, err := uc.payments.MarkApproved(ctx, repository.NoTX, rec.PaymentID)
	if err != nil {
		return nil, err
	}
	if !changed {
		cur, err := uc.payments.FindByID(ctx, repository.NoTX, rec.PaymentID)
		if err != nil {
			return nil, err
		}
		if cur.Status.Cancelled {
			alert(ctx, uc.alerter, uc.log, adapter.Anomaly{
				Kind:      adapter.AnomalyApprovalAfterCancel,
				PaymentID: cur.PaymentID,
				UserID:    cur.UserID,
				Detail:    "gateway approved a payment that was already cancelled",
			})
			return failure(cur.PaymentID, MsgPaymentCancelled), nil
		}
		rec = cur
	} else {
		rec.Status.Approved = true
		publish(ctx, uc.events, uc.log, adapter.PaymentEvent{
			Type:      adapter.EventPaymentApproved,
			PaymentID: rec.PaymentID,
			UserID:    rec.UserID,
			Attributes: map[string]string{
				"amount": rec.Amount.String(),
				"tier":   string(model.ResolveTier(rec.Amount, rec.Metadata)),
			},
		})
	}

	uc.upgrade(ctx, rec)
	log.Info().Str("amount", rec.Amount.String()).Msg("payment approved")
	return success(rec.PaymentID, MsgApproved), nil
}

func (uc *approvalUC) findOrCreate(ctx context.Context, req ApproveRequest) (*model.PaymentRecord, error) {
	rec, err := uc.payments.FindByID(ctx, repository.NoTX, req.PaymentID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	rec, err = model.NewPaymentRecord(req.PaymentID, req.UserID, req.Amount, req.Memo, req.Metadata, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := uc.payments.Create(ctx, repository.NoTX, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return uc.payments.FindByID(ctx, repository.NoTX, req.PaymentID)
		}
		return nil, err
	}
	return rec, nil
}

func (uc *approvalUC) cancelRejected(ctx context.Context, rec *model.PaymentRecord, ge *adapter.GatewayError) {
	reason := RejectedCancelReason
	if ge.Message != "" {
		reason += ": " + ge.Message
	}
	changed, err := uc.payments.MarkCancelled(ctx, repository.NoTX, rec.PaymentID, reason)
	if err != nil {
		logging.With(ctx, uc.log).Error().Err(err).Msg("failed to cancel rejected payment")
		return
	}
	if changed {
		publish(ctx, uc.events, uc.log, adapter.PaymentEvent{
			Type:       adapter.EventPaymentCancelled,
			PaymentID:  rec.PaymentID,
			UserID:     rec.UserID,
			Attributes: map[string]string{"reason": reason},
		})
	}
}

// upgrade applies the tier change. A failure here never fails the approval:
// the gateway has accepted the payment and the record says so.
func (uc *approvalUC) upgrade(ctx context.Context, rec *model.PaymentRecord) {
	if uc.subs == nil {
		return
	}
	if _, err := uc.subs.ApplyUpgrade(ctx, rec); err != nil {
		logging.With(ctx, uc.log).Error().Err(err).Msg("subscription upgrade failed after approval")
	}
}

func phaseOutcome(out *Outcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case out == nil || !out.Success:
		return "failure"
	default:
		return "success"
	}
}
