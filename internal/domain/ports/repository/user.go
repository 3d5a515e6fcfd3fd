package repository

import (
	"context"

	"avante-billing/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

// UserRepository exposes the billing view of user records. The directory owns
// the rest of the user row.
type UserRepository interface {
	// Save inserts the user or refreshes its subscription.
	Save(ctx context.Context, tx Tx, u *model.User) error
	// FindByID returns domain.ErrNotFound for unknown ids. Inside a tx the row is locked.
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// UpdateSubscription returns domain.ErrNotFound when the user row is missing.
	UpdateSubscription(ctx context.Context, tx Tx, id string, tier model.Tier) error
}
