package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

// newID returns a time-ordered UUIDv7, so ids sort in creation order.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

type posting struct {
	Type        domain.EntryType
	Amount      decimal.Decimal
	Description string
	OrderID     string
	At          time.Time
}

// post appends one ledger entry against a wallet locked by the caller and moves
// the wallet balance to the entry's after value. The balance never goes
// negative.
//
// p.At must be read after the wallet lock was taken. The entry is stamped
// strictly after the wallet's previous write at storage precision, so ledger
// reads ordered by (created_at, id) follow lock order.
func post(ctx context.Context, tx port.TxRepository, wallet *domain.Wallet, p posting) (domain.LedgerEntry, error) {
	at := p.At.Truncate(time.Microsecond)
	if !at.After(wallet.UpdatedAt) {
		at = wallet.UpdatedAt.Truncate(time.Microsecond).Add(time.Microsecond)
	}

	after := wallet.Balance.Add(p.Amount)
	if after.IsNegative() {
		return domain.LedgerEntry{}, errors.Wrapf(domain.ErrInsufficientFunds,
			"balance %s cannot absorb %s", wallet.Balance, p.Amount)
	}

	entry := domain.LedgerEntry{
		ID:            newID(),
		WalletID:      wallet.ID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  after,
		Description:   p.Description,
		OrderID:       p.OrderID,
		CreatedAt:     at,
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return domain.LedgerEntry{}, errors.Wrap(err, "append ledger entry")
	}
	if err := tx.UpdateWalletBalance(ctx, wallet.ID, after, at); err != nil {
		return domain.LedgerEntry{}, errors.Wrap(err, "update wallet balance")
	}

	wallet.Balance = after
	wallet.UpdatedAt = at
	return entry, nil
}
