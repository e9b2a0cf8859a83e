package domain

import "time"

// InventoryUnit is one sellable code (digital) or delivery slot (physical).
// Claimed flips false -> true exactly once and is never reverted.
type InventoryUnit struct {
	ID        string
	ProductID string
	Code      string
	Serial    string
	Claimed   bool
	OrderID   string
	ClaimedBy string
	ClaimedAt *time.Time
	CreatedAt time.Time
}

// AllocatedUnit is the buyer-facing projection of a claimed unit.
type AllocatedUnit struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Serial string `json:"serial,omitempty"`
}

func (u InventoryUnit) Allocated() AllocatedUnit {
	return AllocatedUnit{ID: u.ID, Code: u.Code, Serial: u.Serial}
}
