package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductKind string

const (
	ProductKindDigital  ProductKind = "digital"
	ProductKindPhysical ProductKind = "physical"
)

// Product is a catalog snapshot. Stock is a display cache recomputed from the
// unclaimed unit count; it is never the allocation source of truth.
type Product struct {
	ID               string
	Name             string
	Kind             ProductKind
	BaseCost         decimal.Decimal
	SellingPrice     decimal.Decimal
	DistributorPrice decimal.NullDecimal
	IsActive         bool
	Stock            int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
