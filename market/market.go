package market

import "time"

// Side is the direction of a trade.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Quote is a point-in-time price for a token, denominated in the
// native currency (SOL per token).
type Quote struct {
	Token string
	Price float64
	Time  time.Time
}

// Signal is a candidate trade produced by an external scanner.
// It is immutable once created and consumed exactly once by the engine.
type Signal struct {
	ID         string
	Token      string
	Side       Side
	Confidence float64 // [0,1]
	CreatedAt  time.Time
}
