package model

import (
	"strings"

	"github.com/shopspring/decimal"

	"avante-billing/internal/domain"
)

// Tier is a subscription plan level. Tiers are totally ordered:
// individual < small-business < organization.
type Tier string

const (
	TierIndividual    Tier = "individual"
	TierSmallBusiness Tier = "small-business"
	TierOrganization  Tier = "organization"
)

var tierRank = map[Tier]int{
	TierIndividual:    1,
	TierSmallBusiness: 2,
	TierOrganization:  3,
}

var (
	smallBusinessFloor = decimal.NewFromInt(1)
	organizationFloor  = decimal.NewFromInt(10)
)

// ParseTier normalizes s and reports ErrUnknownTier for anything outside the ladder.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRank[t]; !ok {
		return "", domain.ErrUnknownTier
	}
	return t, nil
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Dominates reports whether t is strictly above other. An empty or unknown
// other is dominated by every valid tier.
func (t Tier) Dominates(other Tier) bool {
	return tierRank[t] > tierRank[other]
}

// ShouldUpgrade decides whether a user currently on current (nil = no tier)
// moves to next. Downgrades and lateral moves are never applied.
func ShouldUpgrade(current *Tier, next Tier) bool {
	if !next.Valid() {
		return false
	}
	if current == nil || *current == "" {
		return true
	}
	return next.Dominates(*current)
}

// ResolveTier picks the tier a payment pays for. An explicit, known
// subscriptionTier in metadata wins; otherwise the amount decides.
func ResolveTier(amount decimal.Decimal, meta Metadata) Tier {
	if t, err := ParseTier(meta.SubscriptionTier()); err == nil {
		return t
	}
	switch {
	case amount.LessThan(smallBusinessFloor):
		return TierIndividual
	case amount.LessThan(organizationFloor):
		return TierSmallBusiness
	default:
		return TierOrganization
	}
}
