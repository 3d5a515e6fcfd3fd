package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, subscription, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET subscription=EXCLUDED.subscription, updated_at=NOW();`
	var sub *string
	if u.Subscription != nil {
		s := string(*u.Subscription)
		sub = &s
	}
	if _, err := execSQL(ctx, r.pool, tx, q, u.ID, sub); err != nil {
		return wrapDBErr("save user", err)
	}
	return nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT id, subscription, updated_at FROM users WHERE id=$1` + lockClause(tx) + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		u   model.User
		sub *string
	)
	if err := row.Scan(&u.ID, &sub, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapDBErr("find user", err)
	}
	if sub != nil && *sub != "" {
		t := model.Tier(*sub)
		u.Subscription = &t
	}
	return &u, nil
}

func (r *PostgresUserRepo) UpdateSubscription(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	const q = `UPDATE users SET subscription=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(tier))
	if err != nil {
		return wrapDBErr("update subscription", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
