package trading

import "errors"

var (
	// ErrOrderNotFound is returned when the order does not exist or
	// belongs to another user.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotCancellable is returned when cancellation is requested
	// for an order that already left the pending state.
	ErrOrderNotCancellable = errors.New("order is not cancellable")

	// ErrNoMarketPrice is returned when a market order cannot be priced
	// because no last trade price is known for the symbol.
	ErrNoMarketPrice = errors.New("no market price available")

	// ErrInvalidOrder is returned for requests that fail shape checks
	// before any balance lookup.
	ErrInvalidOrder = errors.New("invalid order")
)
