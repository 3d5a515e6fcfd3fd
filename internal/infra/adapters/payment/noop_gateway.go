package payment

import (
	"context"
	"net/http"
	"sync"

	"avante-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

type noopState struct {
	approved, completed, cancelled bool
	txid                           string
}

// NoopGateway is an in-memory gateway for dev mode and tests. It accepts any
// payment id and answers repeated operations with structured already-in-state
// codes, the way the real gateway does.
type NoopGateway struct {
	mu       sync.Mutex
	payments map[string]*noopState
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{payments: make(map[string]*noopState)}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) state(id string) *noopState {
	st, ok := g.payments[id]
	if !ok {
		st = &noopState{}
		g.payments[id] = st
	}
	return st
}

func conflict(op, id, code, msg string) error {
	return &adapter.GatewayError{Op: op, PaymentID: id, StatusCode: http.StatusBadRequest, Code: code, Message: msg}
}

func (g *NoopGateway) Approve(ctx context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(paymentID)
	switch {
	case st.cancelled:
		return conflict(adapter.GatewayOpApprove, paymentID, "payment_cancelled", "payment was cancelled")
	case st.approved:
		return conflict(adapter.GatewayOpApprove, paymentID, adapter.CodeAlreadyApproved, "payment already approved")
	}
	st.approved = true
	return nil
}

func (g *NoopGateway) Complete(ctx context.Context, paymentID, settlementTxID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(paymentID)
	switch {
	case st.cancelled:
		return conflict(adapter.GatewayOpComplete, paymentID, "payment_cancelled", "payment was cancelled")
	case !st.approved:
		return conflict(adapter.GatewayOpComplete, paymentID, "payment_not_approved", "payment not approved")
	case st.completed:
		return conflict(adapter.GatewayOpComplete, paymentID, adapter.CodeAlreadyCompleted, "payment already completed")
	}
	st.completed = true
	st.txid = settlementTxID
	return nil
}

func (g *NoopGateway) Cancel(ctx context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(paymentID)
	switch {
	case st.completed:
		return conflict(adapter.GatewayOpCancel, paymentID, "payment_completed", "payment already completed")
	case st.cancelled:
		return conflict(adapter.GatewayOpCancel, paymentID, adapter.CodeAlreadyCancelled, "payment already cancelled")
	}
	st.cancelled = true
	return nil
}
