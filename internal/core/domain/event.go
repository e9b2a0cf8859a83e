package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubjectOrderCompleted = "orders.completed"
	SubjectAPIAudit       = "audit.api"
)

// Event is a post-commit notification. Stock, when set, is written to the
// display cache before the event is published.
type Event struct {
	Subject   string
	ProductID string
	Stock     *int
	Payload   any
}

type OrderCompleted struct {
	OrderID     string          `json:"order_id"`
	AccountID   string          `json:"account_id"`
	ProductID   string          `json:"product_id"`
	ProductKind ProductKind     `json:"product_kind"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	IsAPIOrigin bool            `json:"is_api_origin"`
	CompletedAt time.Time       `json:"completed_at"`
}

type APIAudit struct {
	AccountID string        `json:"account_id"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Latency   time.Duration `json:"latency_ns"`
	At        time.Time     `json:"at"`
}
