package domain

import "time"

type Role string

const (
	RoleBuyer       Role = "buyer"
	RoleDistributor Role = "distributor"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleDistributor, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID         string
	Role       Role
	ReferrerID string
	APIKeyHash string
	IsActive   bool
	CreatedAt  time.Time
}

func (a Account) HasReferrer() bool {
	return a.ReferrerID != "" && a.ReferrerID != a.ID
}
