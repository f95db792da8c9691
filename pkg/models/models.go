package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order statuses. Orders are never deleted; status is the only mutable
// part of the audit trail.
const (
	OrderStatusPending   = "pending"
	OrderStatusExecuted  = "executed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Transaction ledger entry types.
const (
	TransactionBuy        = "buy"
	TransactionSell       = "sell"
	TransactionCommission = "commission"
)

// Order represents an order in the system
type Order struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID      uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Symbol      string          `json:"symbol" gorm:"index" validate:"required"`
	Side        string          `json:"side" validate:"required,oneof=buy sell"`
	Type        string          `json:"type" validate:"required,oneof=market limit"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric" validate:"required"`
	TimeInForce string          `json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK"`
	Status      string          `json:"status" validate:"required,oneof=pending executed cancelled rejected"`
	ExchangeRef string          `json:"exchange_ref" gorm:"index"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ExecutedAt  *time.Time      `json:"executed_at"`
}

// Portfolio represents a user's cash position. One per user.
type Portfolio struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID      uuid.UUID       `json:"user_id" gorm:"type:uuid;uniqueIndex" validate:"required,uuid"`
	CashBalance decimal.Decimal `json:"cash_balance" gorm:"type:numeric"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Holding represents a position in one security. Keyed by
// (portfolio, symbol); kept at zero quantity rather than deleted.
type Holding struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	PortfolioID  uuid.UUID       `json:"portfolio_id" gorm:"type:uuid;index:idx_holding_symbol,unique" validate:"required,uuid"`
	Symbol       string          `json:"symbol" gorm:"index:idx_holding_symbol,unique" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:numeric"`
	AveragePrice decimal.Decimal `json:"average_price" gorm:"type:numeric"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Transaction is an append-only ledger entry for an executed fill or
// the commission charged on it.
type Transaction struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	OrderID   uuid.UUID       `json:"order_id" gorm:"type:uuid;index"`
	Symbol    string          `json:"symbol" gorm:"index" validate:"required"`
	Type      string          `json:"type" validate:"required,oneof=buy sell commission"`
	Quantity  decimal.Decimal `json:"quantity" gorm:"type:numeric"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric"`
	CreatedAt time.Time       `json:"created_at"`
}

// Security represents a listed instrument.
type Security struct {
	Symbol    string    `json:"symbol" gorm:"primaryKey" validate:"required"`
	Name      string    `json:"name"`
	Status    string    `json:"status" validate:"omitempty,oneof=active suspended delisted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarketPrice represents the latest market price for a security
type MarketPrice struct {
	Symbol    string          `json:"symbol" gorm:"primaryKey" validate:"required"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric"`
	Change    decimal.Decimal `json:"change" gorm:"type:numeric"`
	Volume    decimal.Decimal `json:"volume" gorm:"type:numeric"`
	High      decimal.Decimal `json:"high" gorm:"type:numeric"`
	Low       decimal.Decimal `json:"low" gorm:"type:numeric"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarketIndex represents a market index level
type MarketIndex struct {
	Name      string          `json:"name" gorm:"primaryKey" validate:"required"`
	Value     decimal.Decimal `json:"value" gorm:"type:numeric"`
	Change    decimal.Decimal `json:"change" gorm:"type:numeric"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewsItem represents a market news entry from the feed
type NewsItem struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Symbol      string    `json:"symbol" gorm:"index"`
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderRequest represents an order placement request
type OrderRequest struct {
	Symbol      string          `json:"symbol" binding:"required" validate:"required"`
	Side        string          `json:"side" binding:"required,oneof=buy sell" validate:"required,oneof=buy sell"`
	Type        string          `json:"type" binding:"required,oneof=market limit" validate:"required,oneof=market limit"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required" validate:"required"`
	TimeInForce string          `json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK"`
}

// OrderFilter represents filters for listing orders
type OrderFilter struct {
	Symbol string `form:"symbol" json:"symbol"`
	Status string `form:"status" json:"status" validate:"omitempty,oneof=pending executed cancelled rejected"`
	Side   string `form:"side" json:"side" validate:"omitempty,oneof=buy sell"`
}
