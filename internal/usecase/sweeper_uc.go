package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"avante-billing/internal/config"
	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/logging"
	"avante-billing/internal/infra/metrics"
)

// Compile-time check
var _ SweeperUseCase = (*sweeperUC)(nil)

type SweeperUseCase interface {
	// CleanupStale cancels the caller's stale payments.
	CleanupStale(ctx context.Context, userID string) (*Outcome, error)
	// SweepAll cancels stale payments of every user and returns how many changed.
	SweepAll(ctx context.Context) (int, error)
}

// SweeperOption customises a sweeper.
type SweeperOption func(*sweeperUC)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SweeperOption {
	return func(uc *sweeperUC) { uc.now = now }
}

type sweeperUC struct {
	payments repository.PaymentRepository
	gateway  adapter.PaymentGateway
	events   adapter.EventPublisher
	alerter  adapter.Alerter
	log      *zerolog.Logger

	staleAfter    time.Duration
	batchSize     int
	cancelTimeout time.Duration
	now           func() time.Time

	mu      sync.Mutex
	flagged map[string]struct{} // ambiguous records already alerted
}

func NewSweeperUseCase(
	payments repository.PaymentRepository,
	gateway adapter.PaymentGateway,
	events adapter.EventPublisher,
	alerter adapter.Alerter,
	cfg config.SweeperConfig,
	logger *zerolog.Logger,
	opts ...SweeperOption,
) *sweeperUC {
	uc := &sweeperUC{
		payments:      payments,
		gateway:       gateway,
		events:        events,
		alerter:       alerter,
		log:           componentLogger(logger, "SweeperUseCase"),
		staleAfter:    cfg.StaleAfter,
		batchSize:     cfg.BatchSize,
		cancelTimeout: cfg.CancelTimeout,
		now:           time.Now,
		flagged:       make(map[string]struct{}),
	}
	if uc.staleAfter <= 0 {
		uc.staleAfter = 10 * time.Minute
	}
	if uc.cancelTimeout <= 0 {
		uc.cancelTimeout = 10 * time.Second
	}
	if uc.batchSize <= 0 {
		uc.batchSize = 200
	}
	for _, o := range opts {
		o(uc)
	}
	return uc
}

func (uc *sweeperUC) CleanupStale(ctx context.Context, userID string) (*Outcome, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidArgument)
	}
	ctx = logging.WithUserID(ctx, userID)
	n, err := uc.sweep(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := success("", MsgCleanupDone)
	out.CleanedCount = n
	return out, nil
}

func (uc *sweeperUC) SweepAll(ctx context.Context) (int, error) {
	return uc.sweep(ctx, "")
}

func (uc *sweeperUC) sweep(ctx context.Context, userID string) (int, error) {
	now := uc.now()
	cutoff := now.Add(-uc.staleAfter)
	recs, err := uc.payments.ListUnresolvedOlderThan(ctx, repository.NoTX, userID, cutoff, uc.batchSize)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		if !rec.IsStale(now, uc.staleAfter) || rec.AwaitingSettlement() {
			continue
		}
		if uc.cancelOne(ctx, rec) {
			cleaned++
		}
	}
	uc.reviewSettling(ctx, userID, cutoff)

	metrics.AddStaleCleaned(cleaned)
	if cleaned > 0 || len(recs) > 0 {
		logging.With(ctx, uc.log).Info().
			Int("candidates", len(recs)).
			Int("cleaned", cleaned).
			Msg("stale payment sweep finished")
	}
	return cleaned, nil
}

// cancelOne asks the gateway to drop the payment and then cancels the record
// whatever the gateway said. It reports whether the record changed.
func (uc *sweeperUC) cancelOne(ctx context.Context, rec *model.PaymentRecord) bool {
	log := uc.log.With().Str("payment_id", rec.PaymentID).Str("user_id", rec.UserID).Logger()

	cctx, cancel := context.WithTimeout(ctx, uc.cancelTimeout)
	gerr := uc.gateway.Cancel(cctx, rec.PaymentID)
	cancel()
	if gerr != nil {
		if ge, ok := adapter.AsGatewayError(gerr); ok && ge.AlreadyInState() {
			log.Debug().Msg("gateway already cancelled stale payment")
		} else {
			log.Warn().Err(gerr).Msg("gateway cancel failed; cancelling locally")
		}
	}

	changed, err := uc.payments.MarkCancelled(ctx, repository.NoTX, rec.PaymentID, StaleCancelReason)
	if err != nil {
		log.Error().Err(err).Msg("failed to cancel stale payment")
		return false
	}
	if !changed {
		return false
	}
	publish(ctx, uc.events, uc.log, adapter.PaymentEvent{
		Type:       adapter.EventPaymentCancelled,
		PaymentID:  rec.PaymentID,
		UserID:     rec.UserID,
		Attributes: map[string]string{"reason": StaleCancelReason},
	})
	return true
}

// reviewSettling alerts on stale records that were approved and handed a
// settlement id but never completed. They are never cancelled here.
func (uc *sweeperUC) reviewSettling(ctx context.Context, userID string, cutoff time.Time) {
	recs, err := uc.payments.ListAwaitingSettlementOlderThan(ctx, repository.NoTX, userID, cutoff, uc.batchSize)
	if err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Msg("failed to list payments awaiting settlement")
		return
	}
	for _, rec := range recs {
		uc.flagAmbiguous(ctx, rec)
	}

	// An unfiltered, uncapped listing holds every record still awaiting
	// settlement; anything else in flagged has been resolved since.
	if userID != "" || len(recs) >= uc.batchSize {
		return
	}
	live := make(map[string]struct{}, len(recs))
	uc.mu.Lock()
	for _, rec := range recs {
		if _, ok := uc.flagged[rec.PaymentID]; ok {
			live[rec.PaymentID] = struct{}{}
		}
	}
	uc.flagged = live
	uc.mu.Unlock()
}

func (uc *sweeperUC) flagAmbiguous(ctx context.Context, rec *model.PaymentRecord) {
	uc.mu.Lock()
	_, seen := uc.flagged[rec.PaymentID]
	uc.flagged[rec.PaymentID] = struct{}{}
	uc.mu.Unlock()
	if seen {
		return
	}
	alert(ctx, uc.alerter, uc.log, adapter.Anomaly{
		Kind:      adapter.AnomalyAmbiguousSettlement,
		PaymentID: rec.PaymentID,
		UserID:    rec.UserID,
		Detail:    "approved payment has a settlement id but never completed; left for manual review",
	})
}
