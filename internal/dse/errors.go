package dse

import "fmt"

// ExchangeError is returned when the exchange gateway answers a request
// with a non-2xx status or cannot be reached at all.
type ExchangeError struct {
	Op     string // "submit" or "cancel"
	Status int    // HTTP status, 0 when the request never completed
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("exchange %s failed: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *ExchangeError) Unwrap() error { return e.Err }
