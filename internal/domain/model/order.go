package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSource tags where an order was observed.
type OrderSource string

const (
	OrderSourceOpenSea OrderSource = "opensea"
)

// OrderSide follows the marketplace encoding: 0 = bid (buy), 1 = ask (sell).
type OrderSide int

const (
	OrderSideBid OrderSide = 0
	OrderSideAsk OrderSide = 1
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBid:
		return "bid"
	case OrderSideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Order is the freshest known listing for (Contract, TokenID, Source).
// Price is expressed in whole native-currency units.
type Order struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Contract    string          `db:"contract" json:"contract"`
	TokenID     int64           `db:"token_id" json:"tokenId"`
	Source      OrderSource     `db:"type" json:"type"`
	Name        string          `db:"name" json:"name"`
	CreatedDate time.Time       `db:"created_date" json:"createdDate"`
	ClosingDate *time.Time      `db:"closing_date" json:"closingDate,omitempty"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Side        OrderSide       `db:"side" json:"side"`
	SaleKind    *int            `db:"sale_kind" json:"saleKind,omitempty"`
	LastUpdated time.Time       `db:"last_updated" json:"lastUpdated"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsFresherThan reports whether o was created strictly after other.
func (o *Order) IsFresherThan(other *Order) bool {
	if other == nil {
		return true
	}
	return o.CreatedDate.After(other.CreatedDate)
}
