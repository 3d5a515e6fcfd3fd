package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionHistoryRepository = (*subscriptionRepo)(nil)

// subscriptionRepo is the append-only upgrade history.
type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) Append(ctx context.Context, tx repository.Tx, e *model.SubscriptionHistoryEntry) error {
	const q = `
INSERT INTO subscriptions (id, user_id, plan, duration, start_date, end_date)
VALUES ($1,$2,$3,$4,$5,$6);`
	if _, err := execSQL(ctx, r.pool, tx, q, e.ID, e.UserID, string(e.Plan), e.Duration, e.StartDate, e.EndDate); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return wrapDBErr("append subscription", err)
	}
	return nil
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SubscriptionHistoryEntry, error) {
	const q = `
SELECT id, user_id, plan, duration, start_date, end_date
  FROM subscriptions
 WHERE user_id=$1
 ORDER BY start_date ASC, id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, wrapDBErr("list subscriptions", err)
	}
	defer rows.Close()

	var out []*model.SubscriptionHistoryEntry
	for rows.Next() {
		var (
			e    model.SubscriptionHistoryEntry
			plan string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &plan, &e.Duration, &e.StartDate, &e.EndDate); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Plan = model.Tier(plan)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("list subscriptions", err)
	}
	return out, nil
}
