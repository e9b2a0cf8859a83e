package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

// seedReferral runs two purchases by a referred buyer so the referrer holds
// two completed commissions of 5% each (1.00 and 2.00).
func seedReferral(t *testing.T, store *storage.MemoryAdapter) {
	t.Helper()
	seedAccount(t, store, "referrer", domain.RoleBuyer, "", "10.00")
	seedAccount(t, store, "buyer", domain.RoleBuyer, "referrer", "100.00")
	seedProduct(t, store, "card", "20.00", "", 3)

	orders := NewOrderService(store, nil, nil, decimal.NewFromInt(5), nil)
	_, err := orders.Purchase(context.Background(), buy("buyer", "card", 1))
	require.NoError(t, err)
	_, err = orders.Purchase(context.Background(), buy("buyer", "card", 2))
	require.NoError(t, err)
}

func TestReferralSummary(t *testing.T) {
	store := storage.NewMemoryAdapter()
	seedReferral(t, store)
	svc := NewReferralService(store, nil)

	summary, err := svc.Summary(context.Background(), "referrer")
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(summary.Pending))
	assert.True(t, decimal.Zero.Equal(summary.Withdrawn))
	assert.True(t, dec("3").Equal(summary.Total))
	assert.Equal(t, 2, summary.Count)

	empty, err := svc.Summary(context.Background(), "buyer")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.True(t, decimal.Zero.Equal(empty.Total))
}

func TestReferralWithdraw(t *testing.T) {
	store := storage.NewMemoryAdapter()
	seedReferral(t, store)
	svc := NewReferralService(store, nil)
	ctx := context.Background()

	result, err := svc.Withdraw(ctx, "referrer")
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(result.Amount))
	assert.Equal(t, 2, result.Commissions)
	assert.True(t, dec("13").Equal(result.NewBalance))
	assert.True(t, dec("13").Equal(balanceOf(t, store, "referrer")))

	chain := requireChain(t, store, "referrer")
	require.Len(t, chain, 1)
	assert.Equal(t, domain.EntryTypeDeposit, chain[0].Type)

	summary, err := svc.Summary(ctx, "referrer")
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(summary.Pending))
	assert.True(t, dec("3").Equal(summary.Withdrawn))

	_, err = svc.Withdraw(ctx, "referrer")
	require.ErrorIs(t, err, domain.ErrNothingToWithdraw)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.True(t, dec("13").Equal(balanceOf(t, store, "referrer")))
}

func TestReferralWithdraw_StampsAfterWalletLock(t *testing.T) {
	store := storage.NewMemoryAdapter()
	seedReferral(t, store)
	svc := NewReferralService(store, nil)
	var clockReads atomic.Int32
	svc.now = func() time.Time {
		clockReads.Add(1)
		return time.Now()
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.InTx(context.Background(), func(ctx context.Context, tx port.TxRepository) error {
			_, err := tx.LockWallet(ctx, "referrer")
			close(locked)
			<-release
			return err
		})
	}()
	<-locked

	done := make(chan error, 1)
	go func() {
		_, err := svc.Withdraw(context.Background(), "referrer")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, clockReads.Load(), "clock read while the wallet lock is held elsewhere")
	close(release)

	require.NoError(t, <-done)
	assert.Positive(t, clockReads.Load())
	requireChain(t, store, "referrer")
}

func TestReferralWithdraw_Rejected(t *testing.T) {
	svc := NewReferralService(storage.NewMemoryAdapter(), nil)

	_, err := svc.Withdraw(context.Background(), "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.Withdraw(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReferralWithdraw_RollsBack(t *testing.T) {
	mem := storage.NewMemoryAdapter()
	seedReferral(t, mem)
	svc := NewReferralService(&faultStore{MemoryAdapter: mem, failOn: "withdrawn"}, nil)

	_, err := svc.Withdraw(context.Background(), "referrer")
	require.ErrorIs(t, err, errInjected)

	assert.True(t, dec("10").Equal(balanceOf(t, mem, "referrer")))
	assert.Empty(t, requireChain(t, mem, "referrer"))
	summary, err := svc.Summary(context.Background(), "referrer")
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(summary.Pending))
}
