package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/apiforllm/chat-server-go/internal/model"
)

type BalanceRepository interface {
	// GetOrCreate bootstraps a zero-value balance row on first use.
	GetOrCreate(ctx context.Context, accountID string) (*model.Balance, error)
	// Debit atomically decrements the balance. It reports false without
	// changing anything unless balance > 0 and balance - amount >= 0; the
	// condition is evaluated inside the UPDATE so concurrent debits cannot
	// race it below zero.
	Debit(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) error
	Reset(ctx context.Context, accountID string, amount decimal.Decimal) error
}

type balanceRepo struct {
	db *sqlx.DB
}

func NewBalanceRepository(db *sqlx.DB) BalanceRepository {
	return &balanceRepo{db: db}
}

func (r *balanceRepo) GetOrCreate(ctx context.Context, accountID string) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.GetContext(ctx, &balance, `
		INSERT INTO balances (account_id)
		VALUES ($1)
		ON CONFLICT (account_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING *
	`, accountID)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *balanceRepo) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE balances SET
			balance = balance - $2,
			updated_at = $3
		WHERE account_id = $1
		AND balance > 0
		AND balance - $2 >= 0
	`, accountID, amount, time.Now())
	if err != nil {
		return false, err
	}
	return rowsAffected(result)
}

func (r *balanceRepo) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE balances SET
			balance = balance + $2,
			last_credit = $3,
			updated_at = $3
		WHERE account_id = $1
	`, accountID, amount, time.Now())
	return err
}

func (r *balanceRepo) Reset(ctx context.Context, accountID string, amount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE balances SET
			balance = $2,
			last_credit = $3,
			updated_at = $3
		WHERE account_id = $1
	`, accountID, amount, time.Now())
	return err
}

func rowsAffected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
