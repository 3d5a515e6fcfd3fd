package model

import "time"

// User is the slice of the directory's user record that billing touches.
// Subscription is nil for users who never paid.
type User struct {
	ID           string
	Subscription *Tier
	UpdatedAt    time.Time
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// CurrentTier returns the user's tier or "" when none is set.
func (u *User) CurrentTier() Tier {
	if u == nil || u.Subscription == nil {
		return ""
	}
	return *u.Subscription
}
