package trading

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kelsoko1/terminal1-sub005/internal/portfolio"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

// PriceSource provides the last trade price for a symbol, used to
// estimate the notional of market orders.
type PriceSource interface {
	LastTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Validator checks funds and share sufficiency before an order is
// submitted to the exchange.
type Validator struct {
	portfolios portfolio.PortfolioService
	prices     PriceSource
}

// NewValidator creates an order validator.
func NewValidator(portfolios portfolio.PortfolioService, prices PriceSource) *Validator {
	return &Validator{portfolios: portfolios, prices: prices}
}

// Validate checks the request against the user's portfolio and returns
// the reference price used for the funds check: the limit price for
// limit orders, the last trade price for market orders.
func (v *Validator) Validate(ctx context.Context, userID uuid.UUID, req *models.OrderRequest) (decimal.Decimal, error) {
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return decimal.Zero, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if req.Type != models.OrderTypeMarket && req.Type != models.OrderTypeLimit {
		return decimal.Zero, fmt.Errorf("%w: type must be market or limit", ErrInvalidOrder)
	}
	if !req.Quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}

	refPrice := req.Price
	if req.Type == models.OrderTypeLimit {
		if !refPrice.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: limit orders require a positive price", ErrInvalidOrder)
		}
	} else {
		last, err := v.prices.LastTradePrice(ctx, req.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrNoMarketPrice, req.Symbol)
		}
		if !last.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrNoMarketPrice, req.Symbol)
		}
		refPrice = last
	}

	switch req.Side {
	case models.SideBuy:
		p, err := v.portfolios.GetPortfolio(ctx, userID)
		if err != nil {
			return decimal.Zero, err
		}
		if req.Quantity.Mul(refPrice).GreaterThan(p.CashBalance) {
			return decimal.Zero, portfolio.ErrInsufficientFunds
		}
	case models.SideSell:
		h, err := v.portfolios.GetHolding(ctx, userID, req.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		if h == nil || h.Quantity.LessThan(req.Quantity) {
			return decimal.Zero, portfolio.ErrInsufficientShares
		}
	}

	return refPrice, nil
}
