package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
)

// DatabaseRepository is the relational store behind the fulfillment engine.
type DatabaseRepository interface {
	// InTx runs fn inside one all-or-nothing transaction. Row locks taken
	// through the TxRepository are held until fn returns; a non-nil error from
	// fn rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	ReadRepository
	ProvisioningRepository
}

// TxRepository is only valid inside InTx. Locks must be taken in the order
// wallet, inventory units, commissions.
type TxRepository interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// LockWallet selects the account's wallet FOR UPDATE.
	LockWallet(ctx context.Context, accountID string) (*domain.Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
	AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error

	// LockUnclaimedUnits selects and locks up to limit unclaimed units of the
	// product. Fewer than limit means the stock is not there.
	LockUnclaimedUnits(ctx context.Context, productID string, limit int) ([]domain.InventoryUnit, error)
	// ClaimUnits marks locked units claimed and returns how many flipped.
	ClaimUnits(ctx context.Context, unitIDs []string, orderID, accountID string, at time.Time) (int, error)
	// RefreshProductStock recomputes the cached stock from the unclaimed count.
	RefreshProductStock(ctx context.Context, productID string, at time.Time) (int, error)

	InsertOrder(ctx context.Context, order domain.Order) error

	// ActiveCommissionSettings returns nil when none are configured.
	ActiveCommissionSettings(ctx context.Context) (*domain.CommissionSettings, error)
	InsertCommission(ctx context.Context, commission domain.ReferralCommission) error
	LockCompletedCommissions(ctx context.Context, referrerID string) ([]domain.ReferralCommission, error)
	MarkCommissionsWithdrawn(ctx context.Context, ids []string, at time.Time) error
}

// ReadRepository serves the read models; no locks are taken.
type ReadRepository interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetWallet(ctx context.Context, accountID string) (*domain.Wallet, error)
	ListLedgerEntries(ctx context.Context, walletID string, page Page) ([]domain.LedgerEntry, error)
	// LedgerChain returns every entry of the wallet, oldest first.
	LedgerChain(ctx context.Context, walletID string) ([]domain.LedgerEntry, error)
	ListOrders(ctx context.Context, accountID string, page Page) ([]domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.OrderDetail, error)
	ListCommissions(ctx context.Context, referrerID string) ([]domain.ReferralCommission, error)
	CountUnclaimedUnits(ctx context.Context, productID string) (int, error)
	FindAccountByAPIKeyHash(ctx context.Context, hash string) (*domain.Account, error)
}

// ProvisioningRepository backs the administrative surfaces that feed the core.
type ProvisioningRepository interface {
	CreateAccount(ctx context.Context, account domain.Account, wallet domain.Wallet) error
	CreateProduct(ctx context.Context, product domain.Product) error
	// AddInventoryUnits inserts units and recomputes the product's stock.
	AddInventoryUnits(ctx context.Context, productID string, units []domain.InventoryUnit) (int, error)
	SaveCommissionSettings(ctx context.Context, settings domain.CommissionSettings) error
}

type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
