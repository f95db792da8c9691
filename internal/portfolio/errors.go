package portfolio

import "errors"

var (
	// ErrPortfolioNotFound is returned when a user has no portfolio.
	ErrPortfolioNotFound = errors.New("portfolio not found")

	// ErrInsufficientFunds is returned when a buy would overdraw the
	// portfolio's cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held
	// quantity of the security.
	ErrInsufficientShares = errors.New("insufficient shares")
)
