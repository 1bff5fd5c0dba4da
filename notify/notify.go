// Package notify delivers trade events to operators. Delivery is
// fire-and-forget: a failed notification is logged and never affects
// position state.
package notify

import (
	"fmt"
	"log"
	"time"
)

// Kind of event being reported.
type Kind string

const (
	PositionOpened Kind = "position_opened"
	PositionClosed Kind = "position_closed"
	PartialClose   Kind = "partial_close"
	TradeRejected  Kind = "trade_rejected"
	EngineHalted   Kind = "engine_halted"
)

// Event is one reportable engine occurrence.
type Event struct {
	Kind       Kind
	Token      string
	PositionID string
	Amount     float64
	Price      float64
	PnL        float64
	Reason     string
	Time       time.Time
}

// Text renders a one-line human-readable summary.
func (e Event) Text() string {
	switch e.Kind {
	case PositionOpened:
		return fmt.Sprintf("OPENED %s: %.4f SOL @ %.9f (position %s)",
			e.Token, e.Amount, e.Price, e.PositionID)
	case PositionClosed:
		return fmt.Sprintf("CLOSED %s: %.4f SOL @ %.9f, PnL %+.4f SOL [%s]",
			e.Token, e.Amount, e.Price, e.PnL, e.Reason)
	case PartialClose:
		return fmt.Sprintf("PARTIAL CLOSE %s: %.4f SOL @ %.9f, PnL %+.4f SOL [%s]",
			e.Token, e.Amount, e.Price, e.PnL, e.Reason)
	case TradeRejected:
		return fmt.Sprintf("REJECTED %s: %s", e.Token, e.Reason)
	case EngineHalted:
		return fmt.Sprintf("ENGINE HALTED: %s", e.Reason)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Token)
	}
}

// Notifier is the engine's notification sink.
type Notifier interface {
	Notify(Event) error
}

// Log writes events to the process log. The zero value is usable.
type Log struct{}

func (Log) Notify(e Event) error {
	log.Printf("event: %s", e.Text())
	return nil
}

// Fanout delivers to several sinks; the first error is returned but
// every sink is attempted.
type Fanout []Notifier

func (f Fanout) Notify(e Event) error {
	var first error
	for _, n := range f {
		if err := n.Notify(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
