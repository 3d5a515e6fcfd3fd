package usecase

import (
	"context"
	"fmt"
	"strings"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ PaymentQueryUseCase = (*paymentQueryUC)(nil)

type PaymentQueryUseCase interface {
	// Get returns the record; domain.ErrNotFound for unknown ids.
	Get(ctx context.Context, paymentID string) (*model.PaymentRecord, error)
}

type paymentQueryUC struct {
	payments repository.PaymentRepository
}

func NewPaymentQueryUseCase(payments repository.PaymentRepository) *paymentQueryUC {
	return &paymentQueryUC{payments: payments}
}

func (uc *paymentQueryUC) Get(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: paymentId is required", domain.ErrInvalidArgument)
	}
	return uc.payments.FindByID(ctx, repository.NoTX, paymentID)
}
