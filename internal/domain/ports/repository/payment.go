package repository

import (
	"context"
	"time"

	"avante-billing/internal/domain/model"
)

// -----------------------------
// Payments (Record Store)
// -----------------------------

// PaymentRepository stores payment records keyed by gateway payment id.
// All transitions are compare-and-set: they only apply when the record is not
// already in the target (or a further) state, and report whether a row changed.
type PaymentRepository interface {
	// Create inserts a new record; a duplicate id yields domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, p *model.PaymentRecord) error
	// FindByID returns domain.ErrNotFound for unknown ids. Inside a tx the row is locked.
	FindByID(ctx context.Context, tx Tx, paymentID string) (*model.PaymentRecord, error)

	// MarkApproved sets approved=true on an unresolved record.
	MarkApproved(ctx context.Context, tx Tx, paymentID string) (bool, error)
	// RecordSettlementTx stores the settlement id on an approved, unresolved record.
	RecordSettlementTx(ctx context.Context, tx Tx, paymentID, settlementTxID string) (bool, error)
	// MarkCompleted sets completed=true (and verified=true) on an approved, unresolved record.
	MarkCompleted(ctx context.Context, tx Tx, paymentID, settlementTxID string) (bool, error)
	// MarkCancelled sets cancelled=true with reason on an unresolved record.
	MarkCancelled(ctx context.Context, tx Tx, paymentID, reason string) (bool, error)

	// ListUnresolvedOlderThan returns records with completed=false and cancelled=false
	// created before cutoff, oldest first. An empty userID means every user.
	// Records awaiting settlement are left out.
	ListUnresolvedOlderThan(ctx context.Context, tx Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error)
	// ListAwaitingSettlementOlderThan returns the unresolved approved records that
	// already carry a settlement id, with the same filters and ordering.
	ListAwaitingSettlementOlderThan(ctx context.Context, tx Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error)
}
