package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

func newWalletFixture(t *testing.T) (*storage.MemoryAdapter, *WalletService) {
	t.Helper()
	store := storage.NewMemoryAdapter()
	seedAccount(t, store, "acc", domain.RoleBuyer, "", "20.00")
	return store, NewWalletService(store, nil)
}

func TestWalletAdjust(t *testing.T) {
	store, svc := newWalletFixture(t)
	ctx := context.Background()

	entry, err := svc.Adjust(ctx, AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeDeposit, Amount: dec("55.5"), Description: "top up"})
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(entry.BalanceBefore))
	assert.True(t, dec("75.5").Equal(entry.BalanceAfter))
	assert.Equal(t, "top up", entry.Description)

	entry, err = svc.Adjust(ctx, AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeWithdrawal, Amount: dec("25.5")})
	require.NoError(t, err)
	assert.True(t, dec("-25.5").Equal(entry.Amount))
	assert.True(t, dec("50").Equal(entry.BalanceAfter))

	assert.True(t, dec("50").Equal(balanceOf(t, store, "acc")))
	assert.Len(t, requireChain(t, store, "acc"), 2)
}

func TestWalletAdjust_Rejected(t *testing.T) {
	store, svc := newWalletFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AdjustmentRequest
		kind domain.Kind
	}{
		{"overdraw", AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeWithdrawal, Amount: dec("20.01")}, domain.KindInsufficientFunds},
		{"zero amount", AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeDeposit, Amount: dec("0")}, domain.KindValidation},
		{"negative amount", AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeDeposit, Amount: dec("-1")}, domain.KindValidation},
		{"purchase type", AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypePurchase, Amount: dec("1")}, domain.KindValidation},
		{"missing account", AdjustmentRequest{Type: domain.EntryTypeDeposit, Amount: dec("1")}, domain.KindValidation},
		{"unknown account", AdjustmentRequest{AccountID: "ghost", Type: domain.EntryTypeDeposit, Amount: dec("1")}, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Adjust(ctx, tt.req)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}

	assert.True(t, dec("20").Equal(balanceOf(t, store, "acc")))
	assert.Empty(t, requireChain(t, store, "acc"))
}

func TestWalletTransactions(t *testing.T) {
	_, svc := newWalletFixture(t)
	ctx := context.Background()

	for _, amount := range []string{"1", "2", "3"} {
		_, err := svc.Adjust(ctx, AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeDeposit, Amount: dec(amount)})
		require.NoError(t, err)
	}

	entries, err := svc.Transactions(ctx, "acc", port.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, dec("3").Equal(entries[0].Amount), "newest first")
	assert.True(t, dec("2").Equal(entries[1].Amount))

	_, err = svc.Transactions(ctx, "ghost", port.Page{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWalletAudit(t *testing.T) {
	_, svc := newWalletFixture(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustmentRequest{AccountID: "acc", Type: domain.EntryTypeDeposit, Amount: dec("5")})
	require.NoError(t, err)

	report, err := svc.Audit(ctx, "acc")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Empty(t, report.Problem)
	assert.Equal(t, 1, report.Entries)
	assert.Equal(t, "wallet-acc", report.WalletID)
	assert.True(t, dec("25").Equal(report.Balance))

	_, err = svc.Audit(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWalletAudit_BrokenChain(t *testing.T) {
	store := storage.NewMemoryAdapter()
	// opening balance without any entry is fine; an entry that does not start
	// from it is not
	seedAccount(t, store, "acc", domain.RoleBuyer, "", "20.00")
	err := store.InTx(context.Background(), func(ctx context.Context, tx port.TxRepository) error {
		w, err := tx.LockWallet(ctx, "acc")
		if err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, domain.LedgerEntry{
			ID: "bad", WalletID: w.ID, Type: domain.EntryTypeDeposit,
			Amount: dec("5"), BalanceBefore: dec("20"), BalanceAfter: dec("26"),
		}); err != nil {
			return err
		}
		return tx.UpdateWalletBalance(ctx, w.ID, dec("26"), w.UpdatedAt)
	})
	require.NoError(t, err)

	report, err := NewWalletService(store, nil).Audit(context.Background(), "acc")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Contains(t, report.Problem, "ledger chain broken")
}
