package repository

import (
	"context"

	"avante-billing/internal/domain/model"
)

// PendingMarkerRepository is the single-slot "last unresolved payment" store,
// one slot per user session.
type PendingMarkerRepository interface {
	Save(ctx context.Context, m *model.PendingMarker) error
	// Find returns domain.ErrNotFound when the slot is empty.
	Find(ctx context.Context, userID string) (*model.PendingMarker, error)
	Delete(ctx context.Context, userID string) error
}
