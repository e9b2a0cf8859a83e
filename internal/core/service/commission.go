package service

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/reseller/internal/core/domain"
)

var hundred = decimal.NewFromInt(100)

// ComputeCommission is the referral commission owed on orderAmount. Results are
// rounded to cents; an inactive or nil setting yields zero.
func ComputeCommission(orderAmount decimal.Decimal, settings *domain.CommissionSettings) decimal.Decimal {
	if settings == nil || !settings.IsActive || !orderAmount.IsPositive() {
		return decimal.Zero
	}
	switch settings.Type {
	case domain.CommissionTypePercentage:
		return orderAmount.Mul(settings.Value).Div(hundred).Round(2)
	case domain.CommissionTypeFixed:
		return settings.Value.Round(2)
	default:
		return decimal.Zero
	}
}

func defaultCommissionSettings(percent decimal.Decimal) *domain.CommissionSettings {
	return &domain.CommissionSettings{
		Type:     domain.CommissionTypePercentage,
		Value:    percent,
		IsActive: true,
	}
}
