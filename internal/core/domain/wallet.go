package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

// Wallet holds the current balance of one account. Balance only changes by
// appending a LedgerEntry and adopting its BalanceAfter in the same transaction.
type Wallet struct {
	ID        string
	AccountID string
	Balance   decimal.Decimal
	Currency  string
	UpdatedAt time.Time
}
