package repository

import (
	"context"

	"avante-billing/internal/domain/model"
)

// SubscriptionHistoryRepository is append-only.
type SubscriptionHistoryRepository interface {
	Append(ctx context.Context, tx Tx, e *model.SubscriptionHistoryEntry) error
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.SubscriptionHistoryEntry, error)
}
