package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
)

type walletView struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newWalletView(w *domain.Wallet) walletView {
	return walletView{ID: w.ID, Balance: w.Balance, Currency: w.Currency, UpdatedAt: w.UpdatedAt}
}

type ledgerEntryView struct {
	ID            string           `json:"id"`
	Type          domain.EntryType `json:"type"`
	Amount        decimal.Decimal  `json:"amount"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	Description   string           `json:"description"`
	OrderID       string           `json:"order_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func newLedgerEntryView(e domain.LedgerEntry) ledgerEntryView {
	return ledgerEntryView{
		ID:            e.ID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Description:   e.Description,
		OrderID:       e.OrderID,
		CreatedAt:     e.CreatedAt,
	}
}

type orderView struct {
	ID          string                 `json:"id"`
	ProductID   string                 `json:"product_id"`
	Quantity    int                    `json:"quantity"`
	UnitPrice   decimal.Decimal        `json:"unit_price"`
	TotalPrice  decimal.Decimal        `json:"total_price"`
	Status      domain.OrderStatus     `json:"status"`
	IsAPIOrigin bool                   `json:"is_api_origin"`
	CreatedAt   time.Time              `json:"created_at"`
	Units       []domain.AllocatedUnit `json:"units,omitempty"`
}

func newOrderView(o domain.Order) orderView {
	return orderView{
		ID:          o.ID,
		ProductID:   o.ProductID,
		Quantity:    o.Quantity,
		UnitPrice:   o.UnitPrice,
		TotalPrice:  o.TotalPrice,
		Status:      o.Status,
		IsAPIOrigin: o.IsAPIOrigin,
		CreatedAt:   o.CreatedAt,
	}
}

func mapViews[T, V any](items []T, fn func(T) V) []V {
	out := make([]V, len(items))
	for i, it := range items {
		out[i] = fn(it)
	}
	return out
}
