package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/metrics"
)

// Compile-time check
var (
	_ SubscriptionUseCase      = (*subscriptionUC)(nil)
	_ SubscriptionQueryUseCase = (*subscriptionUC)(nil)
)

// SubscriptionView is a user's current tier with the upgrades that led to it.
type SubscriptionView struct {
	UserID  string
	Tier    model.Tier // "" when the user never paid
	History []*model.SubscriptionHistoryEntry
}

type SubscriptionQueryUseCase interface {
	// Current reads the user's tier outside any transaction, so it may be
	// served from the user cache.
	Current(ctx context.Context, userID string) (*SubscriptionView, error)
}

// UpgradeResult describes what ApplyUpgrade did.
type UpgradeResult struct {
	UserID   string
	Previous model.Tier
	Target   model.Tier
	Applied  bool
	Entry    *model.SubscriptionHistoryEntry
}

type SubscriptionUseCase interface {
	// ApplyUpgrade moves the payer to the tier the payment buys, if that tier
	// strictly dominates the current one. It never downgrades.
	ApplyUpgrade(ctx context.Context, p *model.PaymentRecord) (*UpgradeResult, error)
	// History lists the user's applied upgrades, oldest first.
	History(ctx context.Context, userID string) ([]*model.SubscriptionHistoryEntry, error)
}

type subscriptionUC struct {
	users   repository.UserRepository
	history repository.SubscriptionHistoryRepository
	tm      repository.TransactionManager
	events  adapter.EventPublisher
	log     *zerolog.Logger
	now     func() time.Time
}

func NewSubscriptionUseCase(
	users repository.UserRepository,
	history repository.SubscriptionHistoryRepository,
	tm repository.TransactionManager,
	events adapter.EventPublisher,
	logger *zerolog.Logger,
) *subscriptionUC {
	return &subscriptionUC{
		users:   users,
		history: history,
		tm:      tm,
		events:  events,
		log:     componentLogger(logger, "SubscriptionUseCase"),
		now:     time.Now,
	}
}

func (uc *subscriptionUC) ApplyUpgrade(ctx context.Context, p *model.PaymentRecord) (*UpgradeResult, error) {
	if p == nil || p.UserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	target := model.ResolveTier(p.Amount, p.Metadata)
	days, _ := p.Metadata.DurationDays()
	res := &UpgradeResult{UserID: p.UserID, Target: target}

	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		u, err := uc.users.FindByID(ctx, tx, p.UserID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", p.UserID, err)
		}
		res.Previous = u.CurrentTier()
		if !model.ShouldUpgrade(u.Subscription, target) {
			return nil
		}
		if err := uc.users.UpdateSubscription(ctx, tx, p.UserID, target); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		entry, err := model.NewSubscriptionHistoryEntry(p.UserID, target, days, uc.now().UTC())
		if err != nil {
			return err
		}
		if err := uc.history.Append(ctx, tx, entry); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("append history: %w", err)
		}
		res.Applied = true
		res.Entry = entry
		return nil
	})
	if err != nil {
		metrics.IncTierUpgradeFailure()
		return nil, err
	}

	if res.Applied {
		metrics.IncTierUpgrade(target)
		uc.log.Info().
			Str("user_id", p.UserID).
			Str("from", string(res.Previous)).
			Str("to", string(target)).
			Msg("subscription upgraded")
		publish(ctx, uc.events, uc.log, adapter.PaymentEvent{
			Type:      adapter.EventSubscriptionUpgrade,
			PaymentID: p.PaymentID,
			UserID:    p.UserID,
			Attributes: map[string]string{
				"from": string(res.Previous),
				"to":   string(target),
			},
		})
	}
	return res, nil
}

func (uc *subscriptionUC) Current(ctx context.Context, userID string) (*SubscriptionView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidArgument)
	}
	u, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	hist, err := uc.history.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionView{UserID: u.ID, Tier: u.CurrentTier(), History: hist}, nil
}

func (uc *subscriptionUC) History(ctx context.Context, userID string) ([]*model.SubscriptionHistoryEntry, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return uc.history.ListByUser(ctx, repository.NoTX, userID)
}
