package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Order is a request to buy or sell a fixed USD notional of one outcome
// token at (or near) the given price.
type Order struct {
	MarketID string
	TokenID  string
	Side     string
	Price    decimal.Decimal
	SizeUSD  decimal.Decimal
}

// Fill is the executed result. Price is the realized per-share price, which
// may differ from the requested price.
type Fill struct {
	Price   decimal.Decimal
	SizeUSD decimal.Decimal
	Shares  decimal.Decimal
}

// RejectedError is a venue-side refusal, as opposed to a transport failure.
// Callers can treat it as final instead of retrying.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// OrderExecutor places entry and exit orders. Implementations must be safe
// for concurrent use.
type OrderExecutor interface {
	Open(ctx context.Context, order Order) (*Fill, error)
	Close(ctx context.Context, order Order) (*Fill, error)
}

func sharesFor(sizeUSD, price decimal.Decimal) (decimal.Decimal, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return sizeUSD.Div(price).Round(6), nil
}
