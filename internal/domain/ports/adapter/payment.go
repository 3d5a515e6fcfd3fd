package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Gateway operations.
const (
	GatewayOpApprove  = "approve"
	GatewayOpComplete = "complete"
	GatewayOpCancel   = "cancel"
)

// Structured codes the gateway uses for "already in that state" answers.
const (
	CodeAlreadyApproved  = "already_approved"
	CodeAlreadyCompleted = "already_completed"
	CodeAlreadyCancelled = "already_cancelled"
)

// PaymentGateway is the hex port for the external payment API. The gateway is
// an opaque authenticated HTTP service; only these three operations are used.
type PaymentGateway interface {
	Name() string

	// Approve tells the gateway the server accepts the payment.
	Approve(ctx context.Context, paymentID string) error
	// Complete finalizes the payment with the settlement transaction id.
	Complete(ctx context.Context, paymentID, settlementTxID string) error
	// Cancel asks the gateway to drop the payment.
	Cancel(ctx context.Context, paymentID string) error
}

// GatewayError is returned by gateway adapters for any non-success answer.
// StatusCode is 0 when the request never got a response.
type GatewayError struct {
	Op         string
	PaymentID  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s %s", e.Op, e.PaymentID)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports network failures, rate limiting and 5xx answers.
func (e *GatewayError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AlreadyInState reports whether the gateway says the payment is already where
// Op would put it. The structured code is authoritative; the message text is
// only consulted when the gateway sent no code.
func (e *GatewayError) AlreadyInState() bool {
	var want, phrase string
	switch e.Op {
	case GatewayOpApprove:
		want, phrase = CodeAlreadyApproved, "already approved"
	case GatewayOpComplete:
		want, phrase = CodeAlreadyCompleted, "already completed"
	case GatewayOpCancel:
		want, phrase = CodeAlreadyCancelled, "already cancelled"
	default:
		return false
	}
	if e.Code != "" {
		return strings.EqualFold(e.Code, want)
	}
	return strings.Contains(strings.ToLower(e.Message), phrase)
}

// AsGatewayError unwraps err into a *GatewayError when possible.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
