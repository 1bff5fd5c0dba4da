package broker

import (
	"context"
	"errors"

	"github.com/sandroneterpone/ye-meme-trader/market"
)

// Errors the engine maps onto its circuit-breaker and retry policy.
var (
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrExecutionFailed  = errors.New("swap execution failed")
)

// QuoteProvider returns the current price for a token in native
// currency. Implementations block on I/O and honor the context
// deadline.
type QuoteProvider interface {
	GetQuote(ctx context.Context, token string) (market.Quote, error)
}

// Fill is the result of an executed swap.
type Fill struct {
	TxID  string
	Token string
	Price float64 // native units per token
}

// SwapExecutor opens and closes positions on the DEX. Amounts are in
// native currency units.
type SwapExecutor interface {
	Open(ctx context.Context, token string, side market.Side, amount float64) (Fill, error)
	Close(ctx context.Context, token string, amount float64) (Fill, error)
}

// SafetyChecker screens a token before any budget is spent on it
// (liquidity, holder count, age). A false return is a rejected
// candidate, not an error.
type SafetyChecker interface {
	Validate(ctx context.Context, token string) (bool, error)
}
