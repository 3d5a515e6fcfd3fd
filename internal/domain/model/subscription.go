package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"avante-billing/internal/domain"
)

// SubscriptionHistoryEntry is appended once per applied upgrade and never mutated.
type SubscriptionHistoryEntry struct {
	ID        string     // ULID, sortable by creation
	UserID    string
	Plan      Tier
	Duration  *int // days, nil when open-ended
	StartDate time.Time
	EndDate   *time.Time
}

// NewSubscriptionHistoryEntry builds an entry starting at start. A positive
// duration sets EndDate = start + duration days.
func NewSubscriptionHistoryEntry(userID string, plan Tier, durationDays int, start time.Time) (*SubscriptionHistoryEntry, error) {
	if userID == "" || !plan.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	e := &SubscriptionHistoryEntry{
		ID:        ulid.MustNew(ulid.Timestamp(start), rand.Reader).String(),
		UserID:    userID,
		Plan:      plan,
		StartDate: start,
	}
	if durationDays > 0 {
		d := durationDays
		end := start.Add(time.Duration(durationDays) * 24 * time.Hour)
		e.Duration = &d
		e.EndDate = &end
	}
	return e, nil
}
