package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxPurchaseQuantity caps the units a single purchase may allocate.
const MaxPurchaseQuantity = 100

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID          string
	AccountID   string
	ProductID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Status      OrderStatus
	IsAPIOrigin bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PurchaseRequest is the validated input of the fulfillment engine. Role is
// supplied by the authentication layer and trusted as-is.
type PurchaseRequest struct {
	AccountID   string
	Role        Role
	ProductID   string
	Quantity    int
	IsAPIOrigin bool
	// RequestID is an optional client token used to reject live duplicates.
	RequestID string
}

type OrderResult struct {
	OrderID        string          `json:"order_id"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	AllocatedUnits []AllocatedUnit `json:"allocated_units"`
	NewBalance     decimal.Decimal `json:"new_balance"`
}

// OrderDetail is the order history read model with the codes bound to it.
type OrderDetail struct {
	Order
	Units []AllocatedUnit
}

// Validate checks the purchase input before any storage is touched.
func (r PurchaseRequest) Validate() error {
	switch {
	case r.AccountID == "":
		return invalid("account id is required")
	case r.ProductID == "":
		return invalid("product id is required")
	case r.Quantity <= 0:
		return invalid("quantity must be positive, got %d", r.Quantity)
	case r.Quantity > MaxPurchaseQuantity:
		return invalid("quantity %d exceeds limit %d", r.Quantity, MaxPurchaseQuantity)
	}
	return nil
}
