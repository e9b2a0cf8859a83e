package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFixed      CommissionType = "fixed"
)

type CommissionStatus string

const (
	CommissionStatusCompleted CommissionStatus = "completed"
	CommissionStatusWithdrawn CommissionStatus = "withdrawn"
	CommissionStatusCancelled CommissionStatus = "cancelled"
)

type CommissionSettings struct {
	Type      CommissionType
	Value     decimal.Decimal
	IsActive  bool
	UpdatedAt time.Time
}

type ReferralCommission struct {
	ID          string
	ReferrerID  string
	ReferredID  string
	OrderID     string
	OrderAmount decimal.Decimal
	Amount      decimal.Decimal
	Status      CommissionStatus
	CreatedAt   time.Time
	WithdrawnAt *time.Time
}

type CommissionSummary struct {
	Pending   decimal.Decimal `json:"pending"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Total     decimal.Decimal `json:"total"`
	Count     int             `json:"count"`
}

func SummarizeCommissions(list []ReferralCommission) CommissionSummary {
	s := CommissionSummary{Pending: decimal.Zero, Withdrawn: decimal.Zero, Total: decimal.Zero}
	for _, c := range list {
		switch c.Status {
		case CommissionStatusCompleted:
			s.Pending = s.Pending.Add(c.Amount)
		case CommissionStatusWithdrawn:
			s.Withdrawn = s.Withdrawn.Add(c.Amount)
		default:
			continue
		}
		s.Total = s.Total.Add(c.Amount)
		s.Count++
	}
	return s
}

type WithdrawalResult struct {
	Amount      decimal.Decimal `json:"amount"`
	Commissions int             `json:"commissions"`
	NewBalance  decimal.Decimal `json:"new_balance"`
}
