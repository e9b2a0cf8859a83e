package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

type fixture struct {
	buyer    domain.Account
	referrer domain.Account
	wallet   domain.Wallet
	product  domain.Product
	units    []domain.InventoryUnit
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// seedFixture creates a referred buyer holding 50.00 and a product with three
// codes priced at 20.00.
func seedFixture(t *testing.T, repo port.DatabaseRepository) fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	f := fixture{
		referrer: domain.Account{ID: newID(), Role: domain.RoleBuyer, IsActive: true, CreatedAt: now},
	}
	f.buyer = domain.Account{
		ID:         newID(),
		Role:       domain.RoleBuyer,
		ReferrerID: f.referrer.ID,
		APIKeyHash: uuid.NewString() + uuid.NewString()[:28],
		IsActive:   true,
		CreatedAt:  now,
	}
	f.wallet = domain.Wallet{ID: newID(), Balance: decimal.NewFromInt(50), Currency: domain.DefaultCurrency, UpdatedAt: now}

	require.NoError(t, repo.CreateAccount(ctx, f.referrer, domain.Wallet{
		ID: newID(), Balance: decimal.Zero, Currency: domain.DefaultCurrency, UpdatedAt: now,
	}))
	require.NoError(t, repo.CreateAccount(ctx, f.buyer, f.wallet))
	f.wallet.AccountID = f.buyer.ID

	f.product = domain.Product{
		ID:           newID(),
		Name:         "Gift Card 20",
		Kind:         domain.ProductKindDigital,
		BaseCost:     decimal.NewFromInt(15),
		SellingPrice: decimal.NewFromInt(20),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.CreateProduct(ctx, f.product))

	for i := 0; i < 3; i++ {
		f.units = append(f.units, domain.InventoryUnit{
			ID:        newID(),
			ProductID: f.product.ID,
			Code:      "CODE-" + uuid.NewString(),
			CreatedAt: now,
		})
	}
	stock, err := repo.AddInventoryUnits(ctx, f.product.ID, f.units)
	require.NoError(t, err)
	require.Equal(t, 3, stock)

	return f
}

// runRepositoryContract exercises the behaviour every DatabaseRepository
// implementation must share.
func runRepositoryContract(t *testing.T, repo port.DatabaseRepository) {
	t.Run("PurchaseFlowCommits", func(t *testing.T) {
		f := seedFixture(t, repo)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		orderID := newID()

		err := repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			w, err := tx.LockWallet(ctx, f.buyer.ID)
			require.NoError(t, err)
			assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))

			units, err := tx.LockUnclaimedUnits(ctx, f.product.ID, 2)
			require.NoError(t, err)
			require.Len(t, units, 2)
			assert.Equal(t, f.units[0].ID, units[0].ID)
			assert.Equal(t, f.units[1].ID, units[1].ID)

			require.NoError(t, tx.InsertOrder(ctx, domain.Order{
				ID: orderID, AccountID: f.buyer.ID, ProductID: f.product.ID, Quantity: 2,
				UnitPrice: decimal.NewFromInt(20), TotalPrice: decimal.NewFromInt(40),
				Status: domain.OrderStatusCompleted, CreatedAt: now, UpdatedAt: now,
			}))

			n, err := tx.ClaimUnits(ctx, []string{units[0].ID, units[1].ID}, orderID, f.buyer.ID, now)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			after := w.Balance.Sub(decimal.NewFromInt(40))
			require.NoError(t, tx.AppendLedgerEntry(ctx, domain.LedgerEntry{
				ID: newID(), WalletID: w.ID, Type: domain.EntryTypePurchase,
				Amount: decimal.NewFromInt(-40), BalanceBefore: w.Balance, BalanceAfter: after,
				Description: "purchase", OrderID: orderID, CreatedAt: now,
			}))
			require.NoError(t, tx.UpdateWalletBalance(ctx, w.ID, after, now))

			stock, err := tx.RefreshProductStock(ctx, f.product.ID, now)
			require.NoError(t, err)
			assert.Equal(t, 1, stock)
			return nil
		})
		require.NoError(t, err)

		w, err := repo.GetWallet(ctx, f.buyer.ID)
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(10)), "balance %s", w.Balance)

		chain, err := repo.LedgerChain(ctx, w.ID)
		require.NoError(t, err)
		require.Len(t, chain, 1)
		assert.NoError(t, domain.VerifyChain(chain, w.Balance))

		detail, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, f.buyer.ID, detail.AccountID)
		assert.Len(t, detail.Units, 2)

		orders, err := repo.ListOrders(ctx, f.buyer.ID, port.Page{})
		require.NoError(t, err)
		assert.Len(t, orders, 1)

		left, err := repo.CountUnclaimedUnits(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, left)

		p, err := repo.GetProduct(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Stock)
	})

	t.Run("ErrorRollsBack", func(t *testing.T) {
		f := seedFixture(t, repo)
		ctx := context.Background()
		now := time.Now().UTC()
		boom := errors.New("boom")

		err := repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			w, err := tx.LockWallet(ctx, f.buyer.ID)
			require.NoError(t, err)
			units, err := tx.LockUnclaimedUnits(ctx, f.product.ID, 3)
			require.NoError(t, err)

			ids := []string{units[0].ID, units[1].ID, units[2].ID}
			_, err = tx.ClaimUnits(ctx, ids, newID(), f.buyer.ID, now)
			require.NoError(t, err)
			require.NoError(t, tx.UpdateWalletBalance(ctx, w.ID, decimal.Zero, now))
			return boom
		})
		require.ErrorIs(t, err, boom)

		w, err := repo.GetWallet(ctx, f.buyer.ID)
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))

		left, err := repo.CountUnclaimedUnits(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, left)
	})

	t.Run("ShortStockReturnsFewerUnits", func(t *testing.T) {
		f := seedFixture(t, repo)

		err := repo.InTx(context.Background(), func(ctx context.Context, tx port.TxRepository) error {
			units, err := tx.LockUnclaimedUnits(ctx, f.product.ID, 5)
			require.NoError(t, err)
			assert.Len(t, units, 3)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ClaimedUnitsAreNeverReclaimed", func(t *testing.T) {
		f := seedFixture(t, repo)
		ctx := context.Background()
		now := time.Now().UTC()
		first, second := newID(), newID()

		var locked []domain.InventoryUnit
		require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			var err error
			locked, err = tx.LockUnclaimedUnits(ctx, f.product.ID, 1)
			require.NoError(t, err)
			n, err := tx.ClaimUnits(ctx, []string{locked[0].ID}, first, f.buyer.ID, now)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			return nil
		}))

		require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			n, err := tx.ClaimUnits(ctx, []string{locked[0].ID}, second, f.buyer.ID, now)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			return nil
		}))
	})

	t.Run("MissingRows", func(t *testing.T) {
		ctx := context.Background()

		_, err := repo.GetProduct(ctx, newID())
		assert.ErrorIs(t, err, domain.ErrProductNotFound)

		_, err = repo.GetWallet(ctx, newID())
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.GetOrder(ctx, newID())
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.FindAccountByAPIKeyHash(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			_, err := tx.LockWallet(ctx, newID())
			return err
		})
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)
	})

	t.Run("DuplicateCodeRejected", func(t *testing.T) {
		f := seedFixture(t, repo)

		_, err := repo.AddInventoryUnits(context.Background(), f.product.ID, []domain.InventoryUnit{{
			ID: newID(), ProductID: f.product.ID, Code: f.units[0].Code, CreatedAt: time.Now().UTC(),
		}})
		assert.ErrorIs(t, err, domain.ErrDuplicateCode)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))

		left, err := repo.CountUnclaimedUnits(context.Background(), f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, left)
	})

	t.Run("AccountByAPIKey", func(t *testing.T) {
		f := seedFixture(t, repo)

		acc, err := repo.FindAccountByAPIKeyHash(context.Background(), f.buyer.APIKeyHash)
		require.NoError(t, err)
		assert.Equal(t, f.buyer.ID, acc.ID)
		assert.Equal(t, f.referrer.ID, acc.ReferrerID)
		assert.True(t, acc.HasReferrer())
	})

	t.Run("CommissionWithdrawal", func(t *testing.T) {
		f := seedFixture(t, repo)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		commissionID := newID()

		require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			return tx.InsertCommission(ctx, domain.ReferralCommission{
				ID: commissionID, ReferrerID: f.referrer.ID, ReferredID: f.buyer.ID, OrderID: newID(),
				OrderAmount: decimal.NewFromInt(100), Amount: decimal.NewFromInt(5),
				Status: domain.CommissionStatusCompleted, CreatedAt: now,
			})
		}))

		require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			_, err := tx.LockWallet(ctx, f.referrer.ID)
			require.NoError(t, err)
			list, err := tx.LockCompletedCommissions(ctx, f.referrer.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)
			return tx.MarkCommissionsWithdrawn(ctx, []string{list[0].ID}, now)
		}))

		list, err := repo.ListCommissions(ctx, f.referrer.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, domain.CommissionStatusWithdrawn, list[0].Status)
		require.NotNil(t, list[0].WithdrawnAt)

		summary := domain.SummarizeCommissions(list)
		assert.True(t, summary.Withdrawn.Equal(decimal.NewFromInt(5)))
		assert.True(t, summary.Pending.IsZero())
	})

	t.Run("LedgerReadsFollowCreatedAt", func(t *testing.T) {
		f := seedFixture(t, repo)
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Microsecond)

		// committed out of created_at order; the last two share a timestamp
		tieLow, tieHigh := newID(), newID()
		steps := []struct {
			id string
			at time.Time
		}{
			{newID(), base.Add(3 * time.Second)},
			{newID(), base.Add(time.Second)},
			{tieHigh, base.Add(2 * time.Second)},
			{tieLow, base.Add(2 * time.Second)},
		}
		for _, s := range steps {
			require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
				return tx.AppendLedgerEntry(ctx, domain.LedgerEntry{
					ID: s.id, WalletID: f.wallet.ID, Type: domain.EntryTypeDeposit,
					Amount: decimal.NewFromInt(1), BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(1),
					Description: "deposit", CreatedAt: s.at,
				})
			}))
		}

		chain, err := repo.LedgerChain(ctx, f.wallet.ID)
		require.NoError(t, err)
		require.Len(t, chain, 4)
		assert.Equal(t, []string{steps[1].id, tieLow, tieHigh, steps[0].id}, ledgerIDs(chain))

		page, err := repo.ListLedgerEntries(ctx, f.wallet.ID, port.Page{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{steps[0].id, tieHigh, tieLow, steps[1].id}, ledgerIDs(page))
	})
}

func ledgerIDs(entries []domain.LedgerEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
