package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

// MemoryAdapter is an in-process DatabaseRepository with the same locking
// behaviour as the SQL adapter: wallet rows are exclusive per transaction,
// inventory unit locks block competing transactions until release, and writes
// become visible only on commit.
type MemoryAdapter struct {
	mu   sync.Mutex
	cond *sync.Cond

	accounts    map[string]domain.Account
	apiKeys     map[string]string
	wallets     map[string]domain.Wallet // by account id
	walletOwner map[string]string        // wallet id -> account id
	walletLocks map[string]chan struct{} // by account id
	products    map[string]domain.Product
	units       []*domain.InventoryUnit
	unitIndex   map[string]*domain.InventoryUnit
	unitOwners  map[string]uint64 // unit id -> tx holding its lock
	orders      map[string]domain.Order
	orderSeq    []string
	ledger      []domain.LedgerEntry
	commissions []domain.ReferralCommission
	settings    []domain.CommissionSettings
	txSeq       uint64
}

func NewMemoryAdapter() *MemoryAdapter {
	m := &MemoryAdapter{
		accounts:    make(map[string]domain.Account),
		apiKeys:     make(map[string]string),
		wallets:     make(map[string]domain.Wallet),
		walletOwner: make(map[string]string),
		walletLocks: make(map[string]chan struct{}),
		products:    make(map[string]domain.Product),
		unitIndex:   make(map[string]*domain.InventoryUnit),
		unitOwners:  make(map[string]uint64),
		orders:      make(map[string]domain.Order),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *MemoryAdapter) InTx(ctx context.Context, fn func(ctx context.Context, tx port.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "begin tx")
	}

	m.mu.Lock()
	m.txSeq++
	tx := &memoryTx{
		store:     m,
		id:        m.txSeq,
		claims:    make(map[string]unitClaim),
		balances:  make(map[string]balanceUpdate),
		stocks:    make(map[string]stockUpdate),
		withdrawn: make(map[string]time.Time),
	}
	m.mu.Unlock()
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type unitClaim struct {
	orderID   string
	accountID string
	at        time.Time
}

type balanceUpdate struct {
	amount decimal.Decimal
	at     time.Time
}

type stockUpdate struct {
	stock int
	at    time.Time
}

type memoryTx struct {
	store *MemoryAdapter
	id    uint64

	heldWallets []string
	heldUnits   []string

	claims      map[string]unitClaim
	balances    map[string]balanceUpdate
	stocks      map[string]stockUpdate
	orders      []domain.Order
	entries     []domain.LedgerEntry
	commissions []domain.ReferralCommission
	withdrawn   map[string]time.Time
}

func (tx *memoryTx) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	return tx.store.getAccount(accountID)
}

func (tx *memoryTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	return tx.store.getProduct(productID)
}

func (tx *memoryTx) LockWallet(ctx context.Context, accountID string) (*domain.Wallet, error) {
	m := tx.store

	if !slices.Contains(tx.heldWallets, accountID) {
		m.mu.Lock()
		lock, ok := m.walletLocks[accountID]
		m.mu.Unlock()
		if !ok {
			return nil, errors.Wrapf(domain.ErrWalletNotFound, "account %s", accountID)
		}

		select {
		case lock <- struct{}{}:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "wait for wallet lock")
		}
		tx.heldWallets = append(tx.heldWallets, accountID)
	}

	m.mu.Lock()
	w := m.wallets[accountID]
	m.mu.Unlock()
	if staged, ok := tx.balances[w.ID]; ok {
		w.Balance = staged.amount
		w.UpdatedAt = staged.at
	}
	return &w, nil
}

func (tx *memoryTx) UpdateWalletBalance(_ context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	m := tx.store
	m.mu.Lock()
	accountID, ok := m.walletOwner[walletID]
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(domain.ErrWalletNotFound, "wallet %s", walletID)
	}
	if !slices.Contains(tx.heldWallets, accountID) {
		return errors.Errorf("wallet %s updated without holding its lock", walletID)
	}
	tx.balances[walletID] = balanceUpdate{amount: balance, at: at}
	return nil
}

func (tx *memoryTx) AppendLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	tx.entries = append(tx.entries, entry)
	return nil
}

// LockUnclaimedUnits waits while other transactions hold units that could
// still satisfy the request, mirroring a blocking SELECT ... FOR UPDATE. It
// locks nothing when the product cannot cover limit even after those locks are
// released.
func (tx *memoryTx) LockUnclaimedUnits(ctx context.Context, productID string, limit int) ([]domain.InventoryUnit, error) {
	m := tx.store

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "wait for inventory lock")
		}

		var free []*domain.InventoryUnit
		busy := 0
		for _, u := range m.units {
			if u.ProductID != productID || u.Claimed {
				continue
			}
			if owner, locked := m.unitOwners[u.ID]; locked && owner != tx.id {
				busy++
				continue
			}
			free = append(free, u)
		}

		if len(free) >= limit {
			out := make([]domain.InventoryUnit, 0, limit)
			for _, u := range free[:limit] {
				if _, held := m.unitOwners[u.ID]; !held {
					m.unitOwners[u.ID] = tx.id
					tx.heldUnits = append(tx.heldUnits, u.ID)
				}
				out = append(out, *u)
			}
			return out, nil
		}
		if len(free)+busy < limit {
			out := make([]domain.InventoryUnit, 0, len(free))
			for _, u := range free {
				out = append(out, *u)
			}
			return out, nil
		}
		m.cond.Wait()
	}
}

func (tx *memoryTx) ClaimUnits(_ context.Context, unitIDs []string, orderID, accountID string, at time.Time) (int, error) {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := 0
	for _, id := range unitIDs {
		u, ok := m.unitIndex[id]
		if !ok || u.Claimed || m.unitOwners[id] != tx.id {
			continue
		}
		if _, dup := tx.claims[id]; dup {
			continue
		}
		tx.claims[id] = unitClaim{orderID: orderID, accountID: accountID, at: at}
		claimed++
	}
	return claimed, nil
}

func (tx *memoryTx) RefreshProductStock(_ context.Context, productID string, at time.Time) (int, error) {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[productID]; !ok {
		return 0, errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
	}
	stock := 0
	for _, u := range m.units {
		if u.ProductID != productID || u.Claimed {
			continue
		}
		if _, staged := tx.claims[u.ID]; staged {
			continue
		}
		stock++
	}
	tx.stocks[productID] = stockUpdate{stock: stock, at: at}
	return stock, nil
}

func (tx *memoryTx) InsertOrder(_ context.Context, order domain.Order) error {
	m := tx.store
	m.mu.Lock()
	_, exists := m.orders[order.ID]
	m.mu.Unlock()
	if exists {
		return errors.Errorf("order %s already exists", order.ID)
	}
	tx.orders = append(tx.orders, order)
	return nil
}

func (tx *memoryTx) ActiveCommissionSettings(_ context.Context) (*domain.CommissionSettings, error) {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.settings) == 0 {
		return nil, nil
	}
	s := m.settings[len(m.settings)-1]
	return &s, nil
}

func (tx *memoryTx) InsertCommission(_ context.Context, c domain.ReferralCommission) error {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.commissions {
		if existing.OrderID == c.OrderID {
			return errors.Errorf("commission for order %s already exists", c.OrderID)
		}
	}
	for _, staged := range tx.commissions {
		if staged.OrderID == c.OrderID {
			return errors.Errorf("commission for order %s already exists", c.OrderID)
		}
	}
	tx.commissions = append(tx.commissions, c)
	return nil
}

// LockCompletedCommissions relies on the caller holding the referrer's wallet
// lock, which serializes withdrawals for the same referrer.
func (tx *memoryTx) LockCompletedCommissions(_ context.Context, referrerID string) ([]domain.ReferralCommission, error) {
	if !slices.Contains(tx.heldWallets, referrerID) {
		return nil, errors.Errorf("commissions of %s locked before their wallet", referrerID)
	}

	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ReferralCommission
	for _, c := range m.commissions {
		if c.ReferrerID != referrerID || c.Status != domain.CommissionStatusCompleted {
			continue
		}
		if _, staged := tx.withdrawn[c.ID]; staged {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (tx *memoryTx) MarkCommissionsWithdrawn(_ context.Context, ids []string, at time.Time) error {
	for _, id := range ids {
		tx.withdrawn[id] = at
	}
	return nil
}

func (tx *memoryTx) commit() {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range tx.claims {
		u := m.unitIndex[id]
		at := c.at
		u.Claimed = true
		u.OrderID = c.orderID
		u.ClaimedBy = c.accountID
		u.ClaimedAt = &at
	}
	for _, o := range tx.orders {
		m.orders[o.ID] = o
		m.orderSeq = append(m.orderSeq, o.ID)
	}
	m.ledger = append(m.ledger, tx.entries...)
	for walletID, b := range tx.balances {
		accountID := m.walletOwner[walletID]
		w := m.wallets[accountID]
		w.Balance = b.amount
		w.UpdatedAt = b.at
		m.wallets[accountID] = w
	}
	for productID, s := range tx.stocks {
		p := m.products[productID]
		p.Stock = s.stock
		p.UpdatedAt = s.at
		m.products[productID] = p
	}
	m.commissions = append(m.commissions, tx.commissions...)
	for i := range m.commissions {
		if at, ok := tx.withdrawn[m.commissions[i].ID]; ok {
			m.commissions[i].Status = domain.CommissionStatusWithdrawn
			m.commissions[i].WithdrawnAt = &at
		}
	}
}

// release drops every lock the transaction holds. Staged writes not applied by
// commit are discarded with the transaction.
func (tx *memoryTx) release() {
	m := tx.store

	m.mu.Lock()
	for _, id := range tx.heldUnits {
		if m.unitOwners[id] == tx.id {
			delete(m.unitOwners, id)
		}
	}
	locks := make([]chan struct{}, 0, len(tx.heldWallets))
	for _, accountID := range tx.heldWallets {
		locks = append(locks, m.walletLocks[accountID])
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	for _, lock := range locks {
		<-lock
	}
	tx.heldUnits = nil
	tx.heldWallets = nil
}

func (m *MemoryAdapter) getAccount(accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "account %s", accountID)
	}
	return &a, nil
}

func (m *MemoryAdapter) getProduct(productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
	}
	return &p, nil
}

func (m *MemoryAdapter) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	return m.getProduct(productID)
}

func (m *MemoryAdapter) GetWallet(_ context.Context, accountID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[accountID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "account %s", accountID)
	}
	return &w, nil
}

func (m *MemoryAdapter) ListLedgerEntries(_ context.Context, walletID string, page port.Page) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.walletLedger(walletID)
	slices.Reverse(out)
	return paginate(out, page), nil
}

func (m *MemoryAdapter) LedgerChain(_ context.Context, walletID string) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.walletLedger(walletID), nil
}

// walletLedger returns the wallet's entries in (created_at, id) order, the
// order the SQL adapter reads them in. Caller holds m.mu.
func (m *MemoryAdapter) walletLedger(walletID string) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range m.ledger {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.LedgerEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *MemoryAdapter) ListOrders(_ context.Context, accountID string, page port.Page) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Order
	for i := len(m.orderSeq) - 1; i >= 0; i-- {
		if o := m.orders[m.orderSeq[i]]; o.AccountID == accountID {
			out = append(out, o)
		}
	}
	return paginate(out, page), nil
}

func (m *MemoryAdapter) GetOrder(_ context.Context, orderID string) (*domain.OrderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", orderID)
	}
	detail := &domain.OrderDetail{Order: o}
	for _, u := range m.units {
		if u.OrderID == orderID {
			detail.Units = append(detail.Units, u.Allocated())
		}
	}
	return detail, nil
}

func (m *MemoryAdapter) ListCommissions(_ context.Context, referrerID string) ([]domain.ReferralCommission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ReferralCommission
	for _, c := range m.commissions {
		if c.ReferrerID == referrerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) CountUnclaimedUnits(_ context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.countUnclaimed(productID), nil
}

func (m *MemoryAdapter) countUnclaimed(productID string) int {
	n := 0
	for _, u := range m.units {
		if u.ProductID == productID && !u.Claimed {
			n++
		}
	}
	return n
}

func (m *MemoryAdapter) FindAccountByAPIKeyHash(_ context.Context, hash string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.apiKeys[hash]
	if !ok {
		return nil, errors.Wrap(domain.ErrNotFound, "api key")
	}
	a := m.accounts[id]
	return &a, nil
}

func (m *MemoryAdapter) CreateAccount(_ context.Context, account domain.Account, wallet domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.ID]; exists {
		return errors.Errorf("account %s already exists", account.ID)
	}
	if wallet.Balance.IsNegative() {
		return errors.Wrap(domain.ErrInvalidInput, "opening balance is negative")
	}
	wallet.AccountID = account.ID
	m.accounts[account.ID] = account
	m.wallets[account.ID] = wallet
	m.walletOwner[wallet.ID] = account.ID
	m.walletLocks[account.ID] = make(chan struct{}, 1)
	if account.APIKeyHash != "" {
		m.apiKeys[account.APIKeyHash] = account.ID
	}
	return nil
}

func (m *MemoryAdapter) CreateProduct(_ context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.products[product.ID]; exists {
		return errors.Errorf("product %s already exists", product.ID)
	}
	product.Stock = m.countUnclaimed(product.ID)
	m.products[product.ID] = product
	return nil
}

func (m *MemoryAdapter) AddInventoryUnits(_ context.Context, productID string, units []domain.InventoryUnit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return 0, errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
	}
	for _, in := range units {
		for _, u := range m.units {
			if u.ProductID == productID && u.Code == in.Code {
				return 0, errors.Wrapf(domain.ErrDuplicateCode, "code already imported for product %s", productID)
			}
		}
	}
	for _, in := range units {
		u := in
		u.ProductID = productID
		u.Claimed = false
		m.units = append(m.units, &u)
		m.unitIndex[u.ID] = &u
	}
	p.Stock = m.countUnclaimed(productID)
	m.products[productID] = p
	m.cond.Broadcast()
	return p.Stock, nil
}

func (m *MemoryAdapter) SaveCommissionSettings(_ context.Context, settings domain.CommissionSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = append(m.settings, settings)
	return nil
}

func paginate[T any](items []T, page port.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return nil
	}
	end := min(page.Offset+page.Limit, len(items))
	return items[page.Offset:end]
}
