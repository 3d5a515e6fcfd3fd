package main

import (
	"context"
	"crypto/rand"

	"github.com/oklog/ulid/v2"

	"avante-billing/internal/orchestrator"
)

// simulatedWallet stands in for the gateway SDK on a terminal: it assigns a
// payment id, asks for approval, then either settles or cancels.
type simulatedWallet struct {
	cancelAfterApproval bool
}

func (w *simulatedWallet) CreatePayment(ctx context.Context, data orchestrator.PaymentData, cb orchestrator.Callbacks) error {
	paymentID := ulid.MustNew(ulid.Now(), rand.Reader).String()
	go func() {
		cb.OnReadyForServerApproval(paymentID)
		if ctx.Err() != nil {
			return
		}
		if w.cancelAfterApproval {
			cb.OnCancel(paymentID)
			return
		}
		cb.OnReadyForServerCompletion(paymentID, "sim-"+ulid.MustNew(ulid.Now(), rand.Reader).String())
	}()
	return nil
}
