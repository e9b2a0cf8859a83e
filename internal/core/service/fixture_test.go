package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	released       []string
	stock          map[string]int
	err            error
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		stock:          make(map[string]int),
	}
}

func (m *mockCacheRepo) SetIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

func (m *mockCacheRepo) SetStock(_ context.Context, productID string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.stock[productID] = stock
	return nil
}

func (m *mockCacheRepo) GetStock(_ context.Context, productID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, false, m.err
	}
	s, ok := m.stock[productID]
	return s, ok, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Enqueue(ev domain.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) all() []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Event(nil), n.events...)
}

var errInjected = errors.New("injected storage failure")

// faultStore fails the named transactional step after the earlier writes of
// the purchase have been staged.
type faultStore struct {
	*storage.MemoryAdapter
	failOn string
}

func (f *faultStore) InTx(ctx context.Context, fn func(ctx context.Context, tx port.TxRepository) error) error {
	return f.MemoryAdapter.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		return fn(ctx, &faultTx{TxRepository: tx, failOn: f.failOn})
	})
}

type faultTx struct {
	port.TxRepository
	failOn string
}

func (t *faultTx) RefreshProductStock(ctx context.Context, productID string, at time.Time) (int, error) {
	if t.failOn == "stock" {
		return 0, errInjected
	}
	return t.TxRepository.RefreshProductStock(ctx, productID, at)
}

func (t *faultTx) InsertCommission(ctx context.Context, c domain.ReferralCommission) error {
	if t.failOn == "commission" {
		return errInjected
	}
	return t.TxRepository.InsertCommission(ctx, c)
}

func (t *faultTx) MarkCommissionsWithdrawn(ctx context.Context, ids []string, at time.Time) error {
	if t.failOn == "withdrawn" {
		return errInjected
	}
	return t.TxRepository.MarkCommissionsWithdrawn(ctx, ids, at)
}

// slowStore delays the in-transaction product read, the round trip a purchase
// makes before it reaches the wallet lock.
type slowStore struct {
	*storage.MemoryAdapter
	calls atomic.Int64
}

func (s *slowStore) InTx(ctx context.Context, fn func(ctx context.Context, tx port.TxRepository) error) error {
	return s.MemoryAdapter.InTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		return fn(ctx, &slowTx{TxRepository: tx, store: s})
	})
}

type slowTx struct {
	port.TxRepository
	store *slowStore
}

func (t *slowTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	n := t.store.calls.Add(1)
	time.Sleep(time.Duration(n%3) * time.Millisecond)
	return t.TxRepository.GetProduct(ctx, productID)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, store port.ProvisioningRepository, id string, role domain.Role, referrerID, balance string) {
	t.Helper()
	err := store.CreateAccount(context.Background(),
		domain.Account{ID: id, Role: role, ReferrerID: referrerID, IsActive: true, CreatedAt: time.Now().UTC()},
		domain.Wallet{ID: "wallet-" + id, Balance: dec(balance), Currency: domain.DefaultCurrency},
	)
	require.NoError(t, err)
}

// seedProduct creates an active product with units codes named CODE-<n>.
func seedProduct(t *testing.T, store port.ProvisioningRepository, id, price, distributorPrice string, units int) {
	t.Helper()
	ctx := context.Background()
	p := domain.Product{
		ID:           id,
		Name:         "Card " + id,
		Kind:         domain.ProductKindDigital,
		BaseCost:     dec(price),
		SellingPrice: dec(price),
		IsActive:     true,
	}
	if distributorPrice != "" {
		p.DistributorPrice = decimal.NewNullDecimal(dec(distributorPrice))
	}
	require.NoError(t, store.CreateProduct(ctx, p))

	if units == 0 {
		return
	}
	batch := make([]domain.InventoryUnit, units)
	for i := range batch {
		batch[i] = domain.InventoryUnit{
			ID:        fmt.Sprintf("%s-unit-%03d", id, i),
			ProductID: id,
			Code:      fmt.Sprintf("CODE-%d", i+1),
		}
	}
	_, err := store.AddInventoryUnits(ctx, id, batch)
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store port.ReadRepository, accountID string) decimal.Decimal {
	t.Helper()
	w, err := store.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	return w.Balance
}

func requireChain(t *testing.T, store port.ReadRepository, accountID string) []domain.LedgerEntry {
	t.Helper()
	ctx := context.Background()
	w, err := store.GetWallet(ctx, accountID)
	require.NoError(t, err)
	chain, err := store.LedgerChain(ctx, w.ID)
	require.NoError(t, err)
	require.NoError(t, domain.VerifyChain(chain, w.Balance))
	return chain
}

func unclaimed(t *testing.T, store port.ReadRepository, productID string) int {
	t.Helper()
	n, err := store.CountUnclaimedUnits(context.Background(), productID)
	require.NoError(t, err)
	return n
}
