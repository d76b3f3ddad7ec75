package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
	"github.com/apiforllm/chat-server-go/internal/model"
	"github.com/apiforllm/chat-server-go/internal/repository"
)

// Ledger owns all balance mutation. Debits are conditional at the database
// level, so two concurrent turns for the same account cannot spend the same
// funds twice.
type Ledger struct {
	balances repository.BalanceRepository
}

func NewLedger(balances repository.BalanceRepository) *Ledger {
	return &Ledger{balances: balances}
}

func (l *Ledger) GetOrCreate(ctx context.Context, accountID string) (*model.Balance, error) {
	balance, err := l.balances.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get or create balance: %w", err)
	}
	return balance, nil
}

// HasSufficientFunds pre-checks a turn's estimated cost before any money is
// spent. It does not reserve funds; the debit itself re-checks atomically.
func (l *Ledger) HasSufficientFunds(ctx context.Context, accountID string, cost decimal.Decimal) (bool, error) {
	balance, err := l.GetOrCreate(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance.Value.GreaterThanOrEqual(cost), nil
}

func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	applied, err := l.balances.Debit(ctx, accountID, amount)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if !applied {
		return apperrors.InsufficientBalance()
	}

	log.Info().
		Str("accountId", accountID).
		Str("amount", amount.String()).
		Msg("balance debited")

	return nil
}

func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if _, err := l.GetOrCreate(ctx, accountID); err != nil {
		return err
	}
	if err := l.balances.Credit(ctx, accountID, amount); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	log.Info().
		Str("accountId", accountID).
		Str("amount", amount.String()).
		Msg("balance credited")

	return nil
}

func (l *Ledger) Reset(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if _, err := l.GetOrCreate(ctx, accountID); err != nil {
		return err
	}
	if err := l.balances.Reset(ctx, accountID, amount); err != nil {
		return fmt.Errorf("reset balance: %w", err)
	}
	return nil
}
