package service

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
)

// ResolvePrice returns the unit price the role pays for product. Distributors
// get the distributor price when one is set; everyone else pays the selling
// price.
func ResolvePrice(product *domain.Product, role domain.Role) (decimal.Decimal, error) {
	if product == nil {
		return decimal.Zero, domain.ErrProductNotFound
	}
	if !product.IsActive {
		return decimal.Zero, errors.Wrapf(domain.ErrProductNotFound, "product %s is inactive", product.ID)
	}
	if role == domain.RoleDistributor && product.DistributorPrice.Valid {
		return product.DistributorPrice.Decimal, nil
	}
	return product.SellingPrice, nil
}
