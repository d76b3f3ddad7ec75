package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
	"github.com/apiforllm/chat-server-go/internal/model"
)

// fakeBalanceRepo applies the same conditional-update semantics as the SQL
// repository, in memory.
type fakeBalanceRepo struct {
	balances map[string]*model.Balance
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{balances: make(map[string]*model.Balance)}
}

func (r *fakeBalanceRepo) GetOrCreate(_ context.Context, accountID string) (*model.Balance, error) {
	if b, ok := r.balances[accountID]; ok {
		return b, nil
	}
	b := &model.Balance{AccountID: accountID, Value: decimal.Zero}
	r.balances[accountID] = b
	return b, nil
}

func (r *fakeBalanceRepo) Debit(_ context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	b, ok := r.balances[accountID]
	if !ok {
		return false, nil
	}
	if b.Value.IsPositive() && b.Value.Sub(amount).Sign() >= 0 {
		b.Value = b.Value.Sub(amount)
		return true, nil
	}
	return false, nil
}

func (r *fakeBalanceRepo) Credit(_ context.Context, accountID string, amount decimal.Decimal) error {
	b := r.balances[accountID]
	b.Value = b.Value.Add(amount)
	b.LastCredit = time.Now()
	return nil
}

func (r *fakeBalanceRepo) Reset(_ context.Context, accountID string, amount decimal.Decimal) error {
	b := r.balances[accountID]
	b.Value = amount
	b.LastCredit = time.Now()
	return nil
}

func (r *fakeBalanceRepo) set(accountID, value string) {
	r.balances[accountID] = &model.Balance{
		AccountID: accountID,
		Value:     decimal.RequireFromString(value),
	}
}

func TestLedgerDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("debits when funds cover the amount", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "100.0")
		ledger := NewLedger(repo)

		err := ledger.Debit(ctx, "acct", decimal.RequireFromString("50.0"))
		require.NoError(t, err)
		assert.True(t, repo.balances["acct"].Value.Equal(decimal.RequireFromString("50.0")))
	})

	t.Run("debit to exactly zero succeeds", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "1.0")
		ledger := NewLedger(repo)

		err := ledger.Debit(ctx, "acct", decimal.RequireFromString("1.0"))
		require.NoError(t, err)
		assert.True(t, repo.balances["acct"].Value.IsZero())
	})

	t.Run("insufficient funds leaves balance unchanged", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "100.0")
		ledger := NewLedger(repo)

		err := ledger.Debit(ctx, "acct", decimal.RequireFromString("150.0"))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInsufficientBalance, apperrors.GetCode(err))
		assert.True(t, repo.balances["acct"].Value.Equal(decimal.RequireFromString("100.0")))
	})

	t.Run("zero balance cannot be debited at all", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "0.0")
		ledger := NewLedger(repo)

		err := ledger.Debit(ctx, "acct", decimal.Zero)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInsufficientBalance, apperrors.GetCode(err))
	})

	t.Run("charges a completed turn against a 0.05 balance", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "0.05")
		ledger := NewLedger(repo)

		inputCost := decimal.RequireFromString("0.0001")
		outputCost := decimal.RequireFromString("0.0002")

		err := ledger.Debit(ctx, "acct", inputCost.Add(outputCost))
		require.NoError(t, err)
		assert.True(t, repo.balances["acct"].Value.Equal(decimal.RequireFromString("0.0497")),
			"balance should be 0.0497, got %s", repo.balances["acct"].Value)
	})
}

func TestLedgerCreditAndReset(t *testing.T) {
	ctx := context.Background()

	t.Run("credit increments and stamps last_credit", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "100.0")
		ledger := NewLedger(repo)

		err := ledger.Credit(ctx, "acct", decimal.RequireFromString("50.0"))
		require.NoError(t, err)
		assert.True(t, repo.balances["acct"].Value.Equal(decimal.RequireFromString("150.0")))
		assert.False(t, repo.balances["acct"].LastCredit.IsZero())
	})

	t.Run("reset overwrites the value", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "100.0")
		ledger := NewLedger(repo)

		err := ledger.Reset(ctx, "acct", decimal.Zero)
		require.NoError(t, err)
		assert.True(t, repo.balances["acct"].Value.IsZero())
	})

	t.Run("credit provisions a missing balance first", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		ledger := NewLedger(repo)

		err := ledger.Credit(ctx, "new-acct", decimal.RequireFromString("0.05"))
		require.NoError(t, err)
		assert.True(t, repo.balances["new-acct"].Value.Equal(decimal.RequireFromString("0.05")))
	})
}

func TestHasSufficientFunds(t *testing.T) {
	ctx := context.Background()

	t.Run("true when balance covers cost", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "0.05")
		ledger := NewLedger(repo)

		ok, err := ledger.HasSufficientFunds(ctx, "acct", decimal.RequireFromString("0.00025"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("false when cost exceeds balance", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		repo.set("acct", "0.0001")
		ledger := NewLedger(repo)

		ok, err := ledger.HasSufficientFunds(ctx, "acct", decimal.RequireFromString("0.00025"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bootstraps a zero balance for unknown accounts", func(t *testing.T) {
		repo := newFakeBalanceRepo()
		ledger := NewLedger(repo)

		ok, err := ledger.HasSufficientFunds(ctx, "new-acct", decimal.RequireFromString("0.00025"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NotNil(t, repo.balances["new-acct"])
	})
}
