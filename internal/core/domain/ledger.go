package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypePurchase   EntryType = "purchase"
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeWithdrawal EntryType = "withdrawal"
	EntryTypeCommission EntryType = "commission"
	EntryTypeRefund     EntryType = "refund"
)

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	ID            string
	WalletID      string
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	OrderID       string
	CreatedAt     time.Time
}

var ErrBrokenChain = errors.New("ledger chain broken")

// VerifyChain checks entries (oldest first) against the wallet balance: every
// entry balances, each entry starts where the previous ended, and the last
// entry ends at balance.
func VerifyChain(entries []LedgerEntry, balance decimal.Decimal) error {
	for i, e := range entries {
		if !e.BalanceBefore.Add(e.Amount).Equal(e.BalanceAfter) {
			return errors.Wrapf(ErrBrokenChain, "entry %s: %s + %s != %s", e.ID, e.BalanceBefore, e.Amount, e.BalanceAfter)
		}
		if e.BalanceAfter.IsNegative() {
			return errors.Wrapf(ErrBrokenChain, "entry %s: negative balance %s", e.ID, e.BalanceAfter)
		}
		if i > 0 && !entries[i-1].BalanceAfter.Equal(e.BalanceBefore) {
			return errors.Wrapf(ErrBrokenChain, "entry %s does not follow %s", e.ID, entries[i-1].ID)
		}
	}
	if len(entries) > 0 && !entries[len(entries)-1].BalanceAfter.Equal(balance) {
		return errors.Wrapf(ErrBrokenChain, "wallet balance %s, last entry %s", balance, entries[len(entries)-1].BalanceAfter)
	}
	return nil
}
