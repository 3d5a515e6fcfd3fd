package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
)

// ResumeAction says what ResumePending did with the marker.
type ResumeAction string

const (
	ResumeNone      ResumeAction = "none"      // no marker
	ResumeResolved  ResumeAction = "resolved"  // record already terminal, marker cleared
	ResumeDiscarded ResumeAction = "discarded" // backend never saw the payment, marker cleared
	ResumeCancelled ResumeAction = "cancelled" // stale cleanup cancelled it, marker cleared
	ResumeInFlight  ResumeAction = "pending"   // still in flight, marker kept
)

type ResumeResult struct {
	Action ResumeAction
	Marker *model.PendingMarker
	Record *model.PaymentRecord // nil when the backend does not know the payment
}

// ResumePending reconciles the marker left by a previous session against the
// backend. Markers of unresolved payments are kept; an approved payment with a
// settlement id is never cancelled by the backend, so it stays pending until
// reviewed.
func (o *Orchestrator) ResumePending(ctx context.Context) (*ResumeResult, error) {
	if o.InProgress() {
		return nil, domain.ErrAlreadyInProgress
	}
	m, err := o.FindResumablePayment(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &ResumeResult{Action: ResumeNone}, nil
	}
	log := o.log.With().Str("payment_id", m.PaymentID).Logger()
	res := &ResumeResult{Marker: m}

	rec, err := o.backend.PaymentStatus(ctx, m.PaymentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Info().Msg("backend has no record of the pending payment; clearing marker")
		res.Action = ResumeDiscarded
		return res, o.clearMarker(ctx)
	case err != nil:
		return nil, fmt.Errorf("payment status: %w", err)
	}
	res.Record = rec
	if rec.Status.Terminal() {
		res.Action = ResumeResolved
		return res, o.clearMarker(ctx)
	}

	out, err := o.backend.CleanupStale(ctx, o.userID)
	if err != nil {
		return nil, fmt.Errorf("cleanup stale: %w", err)
	}
	if out.CleanedCount > 0 {
		if rec, err = o.backend.PaymentStatus(ctx, m.PaymentID); err != nil {
			return nil, fmt.Errorf("payment status: %w", err)
		}
		res.Record = rec
		if rec.Status.Cancelled {
			log.Info().Msg("stale pending payment cancelled")
			res.Action = ResumeCancelled
			return res, o.clearMarker(ctx)
		}
	}
	log.Info().Bool("approved", rec.Status.Approved).Msg("pending payment still unresolved")
	res.Action = ResumeInFlight
	return res, nil
}

func (o *Orchestrator) clearMarker(ctx context.Context) error {
	if err := o.markers.Delete(ctx, o.userID); err != nil {
		return fmt.Errorf("clear pending marker: %w", err)
	}
	return nil
}
