package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the prepaid funds of one account. The value is NUMERIC(16,9);
// it is only ever changed through the ledger's debit/credit/reset operations,
// which preserve non-negativity.
type Balance struct {
	AccountID  string          `db:"account_id" json:"accountId"`
	Value      decimal.Decimal `db:"balance" json:"balance"`
	LastCredit time.Time       `db:"last_credit" json:"lastCredit"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}
