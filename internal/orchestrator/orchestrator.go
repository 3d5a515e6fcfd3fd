package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avante-billing/internal/config"
	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/metrics"
	"avante-billing/internal/usecase"
)

const (
	PhaseApproval   = "approval"
	PhaseCompletion = "completion"

	ReasonCancelled = "cancelled"
)

// User-visible messages. The orchestrator is the only layer that turns
// failures into text for the paying user.
const (
	MsgPaymentSuccessful  = "Payment successful! Your subscription has been upgraded."
	MsgPaymentCancelled   = "Payment was cancelled."
	MsgAlreadyInProgress  = "A payment is already being processed. Please wait."
	MsgTryAgain           = "We could not process your payment. Please try again."
	MsgContactSupport     = "The payment is taking longer than expected. Please contact support before paying again."
	MsgNotAuthenticated   = "Please sign in to subscribe."
	MsgPaymentUnavailable = "Payments are unavailable right now. Please try again later."
)

// PaymentData is what the gateway SDK needs to open a payment intent.
type PaymentData struct {
	Amount   decimal.Decimal
	Memo     string
	Metadata model.Metadata
}

// PaymentDTO is the gateway's view of a payment, passed along with errors.
type PaymentDTO struct {
	Identifier string
	Amount     decimal.Decimal
	Memo       string
	Metadata   model.Metadata
	TxID       string
}

// Callbacks are invoked by the gateway SDK as the handshake progresses.
type Callbacks struct {
	OnReadyForServerApproval   func(paymentID string)
	OnReadyForServerCompletion func(paymentID, settlementTxID string)
	OnCancel                   func(paymentID string)
	OnError                    func(err error, payment *PaymentDTO)
}

// GatewaySDK creates a payment intent and drives callbacks until the payment
// reaches a terminal state.
type GatewaySDK interface {
	CreatePayment(ctx context.Context, data PaymentData, cb Callbacks) error
}

// Backend is the payment API as seen by the client.
type Backend interface {
	Approve(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error)
	Complete(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error)
	CleanupStale(ctx context.Context, userID string) (*usecase.Outcome, error)
	PaymentStatus(ctx context.Context, paymentID string) (*model.PaymentRecord, error)
}

// Result is the resolution of one subscription payment.
type Result struct {
	Success       bool
	PaymentID     string
	TransactionID string
	Reason        string
	Message       string
}

// errBusinessFailure marks a 2xx answer with success=false.
var errBusinessFailure = errors.New("rejected by payment service")

type Option func(*Orchestrator)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func WithPhaseTimeouts(approval, completion time.Duration) Option {
	return func(o *Orchestrator) {
		o.approvalTimeout, o.completionTimeout = approval, completion
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs at most one payment handshake at a time for one user
// session. The guard is per instance; the backend's idempotent records are
// what actually prevent double charging.
type Orchestrator struct {
	sdk     GatewaySDK
	backend Backend
	markers repository.PendingMarkerRepository
	log     zerolog.Logger

	userID            string
	brand             string
	retry             RetryPolicy
	approvalTimeout   time.Duration
	completionTimeout time.Duration
	now               func() time.Time

	mu     sync.Mutex
	active *flow
}

func New(cfg config.OrchestratorConfig, sdk GatewaySDK, backend Backend, markers repository.PendingMarkerRepository, logger *zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sdk:     sdk,
		backend: backend,
		markers: markers,
		log:     logger.With().Str("component", "PaymentOrchestrator").Str("user_id", cfg.UserID).Logger(),
		userID:  cfg.UserID,
		brand:   cfg.Brand,
		retry: RetryPolicy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialDelay,
			DelayStep:    cfg.DelayStep,
		},
		approvalTimeout:   cfg.ApprovalTimeout,
		completionTimeout: cfg.CompletionTimeout,
		now:               time.Now,
	}
	if o.brand == "" {
		o.brand = "Avante Maps"
	}
	if o.retry.MaxAttempts <= 0 {
		o.retry = DefaultRetryPolicy()
	}
	if o.approvalTimeout <= 0 {
		o.approvalTimeout = 45 * time.Second
	}
	if o.completionTimeout <= 0 {
		o.completionTimeout = 45 * time.Second
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InProgress reports whether a handshake is currently active.
func (o *Orchestrator) InProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// StartSubscriptionPayment opens a payment intent and blocks until the
// gateway callbacks resolve it or ctx ends.
func (o *Orchestrator) StartSubscriptionPayment(ctx context.Context, amount decimal.Decimal, tier model.Tier, frequency string) (*Result, error) {
	if o.userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if !amount.IsPositive() || !tier.Valid() || strings.TrimSpace(frequency) == "" {
		return nil, fmt.Errorf("%w: amount, tier and frequency are required", domain.ErrInvalidArgument)
	}

	f, err := o.acquire(ctx, PaymentData{
		Amount: amount,
		Memo:   fmt.Sprintf("%s %s subscription (%s)", o.brand, tier, frequency),
		Metadata: model.Metadata{
			model.MetaSubscriptionTier: string(tier),
			model.MetaFrequency:        frequency,
			model.MetaTimestamp:        o.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}
	defer o.release(f)

	o.log.Info().Str("memo", f.data.Memo).Str("amount", amount.String()).Msg("creating payment")
	if err := o.sdk.CreatePayment(f.ctx, f.data, o.callbacks(f)); err != nil {
		_ = f.fsm.Fail()
		f.resolve(nil, fmt.Errorf("create payment: %w", err))
	}

	select {
	case r := <-f.done:
		return r.result, r.err
	case <-ctx.Done():
		f.resolve(nil, ctx.Err())
		r := <-f.done
		return r.result, r.err
	}
}

// FindResumablePayment returns the marker left by an unfinished handshake,
// or nil when there is none.
func (o *Orchestrator) FindResumablePayment(ctx context.Context) (*model.PendingMarker, error) {
	if o.userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	m, err := o.markers.Find(ctx, o.userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending marker: %w", err)
	}
	return m, nil
}

func (o *Orchestrator) acquire(ctx context.Context, data PaymentData) (*flow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, domain.ErrAlreadyInProgress
	}
	fctx, cancel := context.WithCancel(ctx)
	f := &flow{
		ctx:    fctx,
		cancel: cancel,
		fsm:    NewMachine(),
		data:   data,
		done:   make(chan resolution, 1),
	}
	o.active = f
	return f, nil
}

func (o *Orchestrator) release(f *flow) {
	f.cancel()
	o.mu.Lock()
	if o.active == f {
		o.active = nil
	}
	o.mu.Unlock()
}

type resolution struct {
	result *Result
	err    error
}

// flow is the state of one handshake. phaseMu serialises the approval and
// completion callbacks; markerMu orders marker writes against cancellation.
type flow struct {
	ctx    context.Context
	cancel context.CancelFunc
	fsm    *Machine
	data   PaymentData

	phaseMu  sync.Mutex
	markerMu sync.Mutex

	once sync.Once
	done chan resolution
}

// resolve delivers the first resolution and preempts any running phase.
// Later calls are discarded.
func (f *flow) resolve(r *Result, err error) {
	f.once.Do(func() {
		f.done <- resolution{result: r, err: err}
		f.cancel()
	})
}

func (o *Orchestrator) callbacks(f *flow) Callbacks {
	return Callbacks{
		OnReadyForServerApproval:   func(id string) { o.onApproval(f, id) },
		OnReadyForServerCompletion: func(id, txid string) { o.onCompletion(f, id, txid) },
		OnCancel:                   func(id string) { o.onCancel(f, id) },
		OnError:                    func(err error, p *PaymentDTO) { o.onError(f, err, p) },
	}
}

func (o *Orchestrator) onApproval(f *flow, paymentID string) {
	f.phaseMu.Lock()
	defer f.phaseMu.Unlock()
	log := o.log.With().Str("payment_id", paymentID).Logger()

	f.markerMu.Lock()
	if err := f.fsm.RequestApproval(paymentID); err != nil {
		f.markerMu.Unlock()
		log.Warn().Err(err).Msg("ignoring approval callback")
		return
	}
	err := o.markers.Save(f.ctx, &model.PendingMarker{
		PaymentID: paymentID,
		UserID:    o.userID,
		Amount:    f.data.Amount,
		Memo:      f.data.Memo,
		Metadata:  f.data.Metadata,
	})
	f.markerMu.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("failed to save pending marker")
	}

	err = o.runPhase(f.ctx, PhaseApproval, o.approvalTimeout, func(ctx context.Context) error {
		out, err := o.backend.Approve(ctx, usecase.ApproveRequest{
			PaymentID: paymentID,
			UserID:    o.userID,
			Amount:    f.data.Amount,
			Memo:      f.data.Memo,
			Metadata:  f.data.Metadata,
		})
		return outcomeErr(out, err)
	})
	if err != nil {
		if f.fsm.Fail() == nil {
			log.Warn().Err(err).Msg("approval phase failed; pending marker kept")
		}
		f.resolve(nil, err)
		return
	}
	if err := f.fsm.Approve(); err != nil {
		log.Warn().Err(err).Msg("approval landed after the payment was resolved")
		return
	}
	log.Info().Msg("payment approved")
}

func (o *Orchestrator) onCompletion(f *flow, paymentID, txid string) {
	f.phaseMu.Lock()
	defer f.phaseMu.Unlock()
	log := o.log.With().Str("payment_id", paymentID).Str("txid", txid).Logger()

	if err := f.fsm.RequestCompletion(paymentID); err != nil {
		log.Warn().Err(err).Msg("ignoring completion callback")
		return
	}

	err := o.runPhase(f.ctx, PhaseCompletion, o.completionTimeout, func(ctx context.Context) error {
		out, err := o.backend.Complete(ctx, usecase.CompleteRequest{
			PaymentID:      paymentID,
			UserID:         o.userID,
			SettlementTxID: txid,
		})
		return outcomeErr(out, err)
	})
	if err != nil {
		if f.fsm.Fail() == nil {
			log.Warn().Err(err).Msg("completion phase failed; pending marker kept")
		}
		f.resolve(nil, err)
		return
	}
	if err := f.fsm.Complete(); err != nil {
		log.Warn().Err(err).Msg("completion landed after the payment was resolved")
		return
	}

	if err := o.markers.Delete(context.WithoutCancel(f.ctx), o.userID); err != nil {
		log.Error().Err(err).Msg("failed to clear pending marker")
	}
	log.Info().Msg("payment completed")
	f.resolve(&Result{
		Success:       true,
		PaymentID:     paymentID,
		TransactionID: txid,
		Message:       MsgPaymentSuccessful,
	}, nil)
}

// onCancel is terminal and immediate: it does not wait for a running phase.
func (o *Orchestrator) onCancel(f *flow, paymentID string) {
	log := o.log.With().Str("payment_id", paymentID).Logger()

	f.markerMu.Lock()
	err := f.fsm.Cancel()
	if err == nil {
		if derr := o.markers.Delete(context.WithoutCancel(f.ctx), o.userID); derr != nil {
			log.Error().Err(derr).Msg("failed to clear pending marker")
		}
	}
	f.markerMu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("ignoring cancel callback")
		return
	}

	log.Info().Msg("payment cancelled")
	f.resolve(&Result{
		Success:   false,
		PaymentID: paymentID,
		Reason:    ReasonCancelled,
		Message:   MsgPaymentCancelled,
	}, nil)
}

// onError leaves the marker in place; resolution is deferred to ResumePending.
func (o *Orchestrator) onError(f *flow, err error, p *PaymentDTO) {
	ev := o.log.Error().Err(err)
	if p != nil {
		ev = ev.Str("payment_id", p.Identifier)
	}
	ev.Msg("gateway reported an error")
	_ = f.fsm.Fail()
	f.resolve(nil, fmt.Errorf("gateway: %w", err))
}

// runPhase retries op under a phase clock. The clock fires independently of
// the retry loop; a result arriving after it is discarded.
func (o *Orchestrator) runPhase(ctx context.Context, phase string, timeout time.Duration, op func(ctx context.Context) error) error {
	phaseErr := domain.ErrApprovalFailed
	if phase == PhaseCompletion {
		phaseErr = domain.ErrCompletionFailed
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.retry.Do(pctx, func(ctx context.Context) error {
			metrics.IncOrchestratorAttempt(phase)
			err := op(ctx)
			if err != nil && !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}, func(err error, next time.Duration) {
			o.log.Warn().Err(err).Str("phase", phase).Dur("retry_in", next).Msg("backend call failed, retrying")
		})
	}()

	var err error
	select {
	case err = <-done:
	case <-pctx.Done():
	}

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case pctx.Err() != nil:
		// late results are dropped with the buffered channel
		metrics.IncOrchestratorPhase(phase, "timeout")
		return fmt.Errorf("%w: %w", phaseErr, domain.ErrPhaseTimeout)
	case err == nil:
		metrics.IncOrchestratorPhase(phase, "success")
		return nil
	case errors.Is(err, errBusinessFailure):
		metrics.IncOrchestratorPhase(phase, "business")
	default:
		metrics.IncOrchestratorPhase(phase, "failed")
	}
	return fmt.Errorf("%w: %w", phaseErr, err)
}

func outcomeErr(out *usecase.Outcome, err error) error {
	if err != nil {
		return err
	}
	if out == nil || !out.Success {
		msg := ""
		if out != nil {
			msg = out.Message
		}
		return fmt.Errorf("%w: %s", errBusinessFailure, msg)
	}
	return nil
}

// UserMessage turns an orchestrator error into text for the paying user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrAlreadyInProgress):
		return MsgAlreadyInProgress
	case errors.Is(err, domain.ErrNotAuthenticated):
		return MsgNotAuthenticated
	case errors.Is(err, domain.ErrPhaseTimeout):
		return MsgContactSupport
	case errors.Is(err, domain.ErrApprovalFailed), errors.Is(err, domain.ErrCompletionFailed):
		return MsgTryAgain
	}
	return MsgPaymentUnavailable
}
