package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `payment_id, user_id, amount::text, memo, metadata,
  approved, verified, completed, cancelled, error, settlement_tx_id, created_at, updated_at`

// unresolved is the guard every forward transition shares.
const unresolved = `NOT completed AND NOT cancelled`

// awaitingSettlement matches approved records that already carry a settlement id.
const awaitingSettlement = `approved AND COALESCE(settlement_tx_id, '') <> ''`

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	const q = `
INSERT INTO payments (
  payment_id, user_id, amount, memo, metadata,
  approved, verified, completed, cancelled, error, settlement_tx_id, created_at, updated_at
) VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`

	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err)
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		p.PaymentID, p.UserID, p.Amount.String(), p.Memo, meta,
		p.Status.Approved, p.Status.Verified, p.Status.Completed, p.Status.Cancelled, p.Status.Error,
		p.SettlementTxID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return wrapDBErr("create payment", err)
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id=$1` + lockClause(tx) + `;`
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *paymentRepo) MarkApproved(ctx context.Context, tx repository.Tx, paymentID string) (bool, error) {
	const q = `
UPDATE payments SET approved=TRUE, error=NULL, updated_at=NOW()
 WHERE payment_id=$1 AND NOT approved AND ` + unresolved + `;`
	return r.transition(ctx, tx, "mark approved", q, paymentID)
}

func (r *paymentRepo) RecordSettlementTx(ctx context.Context, tx repository.Tx, paymentID, settlementTxID string) (bool, error) {
	const q = `
UPDATE payments SET settlement_tx_id=$2, updated_at=NOW()
 WHERE payment_id=$1 AND approved AND ` + unresolved + `;`
	return r.transition(ctx, tx, "record settlement", q, paymentID, settlementTxID)
}

func (r *paymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, paymentID, settlementTxID string) (bool, error) {
	const q = `
UPDATE payments SET completed=TRUE, verified=TRUE, settlement_tx_id=$2, error=NULL, updated_at=NOW()
 WHERE payment_id=$1 AND approved AND ` + unresolved + `;`
	return r.transition(ctx, tx, "mark completed", q, paymentID, settlementTxID)
}

func (r *paymentRepo) MarkCancelled(ctx context.Context, tx repository.Tx, paymentID, reason string) (bool, error) {
	const q = `
UPDATE payments SET cancelled=TRUE, error=$2, updated_at=NOW()
 WHERE payment_id=$1 AND ` + unresolved + `;`
	return r.transition(ctx, tx, "mark cancelled", q, paymentID, reason)
}

func (r *paymentRepo) transition(ctx context.Context, tx repository.Tx, op, q string, args ...interface{}) (bool, error) {
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return false, wrapDBErr(op, err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *paymentRepo) ListUnresolvedOlderThan(ctx context.Context, tx repository.Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	return r.listOlderThan(ctx, tx, "list unresolved", `NOT (`+awaitingSettlement+`)`, userID, cutoff, limit)
}

func (r *paymentRepo) ListAwaitingSettlementOlderThan(ctx context.Context, tx repository.Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	return r.listOlderThan(ctx, tx, "list awaiting settlement", awaitingSettlement, userID, cutoff, limit)
}

func (r *paymentRepo) listOlderThan(ctx context.Context, tx repository.Tx, op, filter, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + paymentColumns + `
  FROM payments
 WHERE ` + unresolved + ` AND ` + filter + `
   AND created_at < $1 AND ($2::text = '' OR user_id = $2::text)
 ORDER BY created_at ASC
 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, userID, limit)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		p      model.PaymentRecord
		amount string
		meta   []byte
	)
	if err := row.Scan(&p.PaymentID, &p.UserID, &amount, &p.Memo, &meta,
		&p.Status.Approved, &p.Status.Verified, &p.Status.Completed, &p.Status.Cancelled, &p.Status.Error,
		&p.SettlementTxID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", domain.ErrReadDatabaseRow, amount)
	}
	p.Amount = d
	p.Metadata = model.Metadata{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &p, nil
}
