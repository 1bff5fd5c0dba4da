package position

import (
	"fmt"
	"sort"
	"time"

	"github.com/sandroneterpone/ye-meme-trader/internal/id"
	"github.com/sandroneterpone/ye-meme-trader/market"
)

// Status is the lifecycle state of a position.
type Status int

const (
	Pending Status = iota
	Validating
	Executing
	Open
	Closing
	Closed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Validating:
		return "validating"
	case Executing:
		return "executing"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == Closed || s == Failed || s == Cancelled
}

// Legal transitions. Closing→Open covers a failed close swap: the
// position stays live and its monitor retries, it is never silently
// dropped. Closing→Failed is the forced exit after too many failed
// close attempts, so a broken position cannot hold budget forever.
var transitions = map[Status][]Status{
	Pending:    {Validating, Failed, Cancelled},
	Validating: {Executing, Failed, Cancelled},
	Executing:  {Open, Failed, Cancelled},
	Open:       {Closing},
	Closing:    {Closed, Open, Failed},
}

// TakeProfitTarget is a configured rung of the take-profit ladder,
// expressed relative to the eventual entry price.
type TakeProfitTarget struct {
	GainPct  float64 `json:"gain_pct" yaml:"gain_pct"` // e.g. 0.5 fires at entry*1.5
	Fraction float64 `json:"fraction" yaml:"fraction"` // fraction of the position to close, (0,1]
}

// TakeProfitLevel is a rung anchored to the actual fill price. Each
// level fires at most once.
type TakeProfitLevel struct {
	Trigger  float64
	Fraction float64
	fired    bool
}

func (l *TakeProfitLevel) Fired() bool { return l.fired }

// Params configures the exit thresholds of a new position.
type Params struct {
	Amount        float64 // native units to commit
	StopLossPct   float64 // static stop distance below entry, e.g. 0.15
	TrailingPct   float64 // trailing stop distance below the running high
	ActivationPct float64 // favorable move required before the trail arms
	TakeProfits   []TakeProfitTarget
}

// Position is the unit the engine owns end to end. Lifecycle fields
// (status, budget release) are written only by the engine; price and
// threshold fields only by the position's monitor. A handoff channel
// keeps the two from ever writing concurrently, so the struct itself
// carries no lock.
type Position struct {
	ID     string
	Token  string
	Side   market.Side
	Signal string // originating signal ID

	AmountCommitted float64 // native units reserved from the ledger
	Remaining       float64 // fraction of the position still open, [0,1]

	EntryPrice   float64
	HighestPrice float64 // monotonically non-decreasing once open

	StopLossPrice    float64
	TakeProfits      []TakeProfitLevel // descending trigger order
	TrailingDistance float64           // fraction of the high, (0,1)
	TrailingArmAt    float64
	trailingArmed    bool

	Status      Status
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason string
	RealizedPnL float64

	params        Params
	releasedSoFar float64
	closeFailures int
}

// New creates a Pending position for the given signal. Price-derived
// thresholds are anchored later, by MarkOpen, once the fill price is
// known.
func New(sig market.Signal, p Params) *Position {
	return &Position{
		ID:              id.New(),
		Token:           sig.Token,
		Side:            sig.Side,
		Signal:          sig.ID,
		AmountCommitted: p.Amount,
		Remaining:       1,
		Status:          Pending,
		params:          p,
	}
}

// Transition moves the lifecycle to the given state, rejecting edges
// not in the transition table.
func (p *Position) Transition(to Status) error {
	for _, ok := range transitions[p.Status] {
		if to == ok {
			p.Status = to
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for position %s",
		p.Status, to, p.ID)
}

// MarkOpen anchors exit thresholds to the fill price and moves the
// position to Open.
func (p *Position) MarkOpen(fillPrice float64, now time.Time) error {
	if fillPrice <= 0 {
		return fmt.Errorf("position %s: fill price must be positive, got %v", p.ID, fillPrice)
	}
	if err := p.Transition(Open); err != nil {
		return err
	}

	p.EntryPrice = fillPrice
	p.HighestPrice = fillPrice
	p.OpenedAt = now
	if p.params.StopLossPct > 0 {
		p.StopLossPrice = fillPrice * (1 - p.params.StopLossPct)
	}
	p.TrailingDistance = p.params.TrailingPct
	p.TrailingArmAt = fillPrice * (1 + p.params.ActivationPct)

	p.TakeProfits = p.TakeProfits[:0]
	for _, t := range p.params.TakeProfits {
		p.TakeProfits = append(p.TakeProfits, TakeProfitLevel{
			Trigger:  fillPrice * (1 + t.GainPct),
			Fraction: t.Fraction,
		})
	}
	sort.Slice(p.TakeProfits, func(i, j int) bool {
		return p.TakeProfits[i].Trigger > p.TakeProfits[j].Trigger
	})
	return nil
}

// ApplyClose settles a confirmed close for the exit that triggered
// it. It accumulates realized PnL, consumes the take-profit rung (if
// any) now that the swap went through, and transitions to Closed once
// no exposure remains. Returns true when the position is fully closed.
func (p *Position) ApplyClose(e Exit, pnl float64, now time.Time) (bool, error) {
	if p.Status != Closing {
		return false, fmt.Errorf("position %s: close applied in %s", p.ID, p.Status)
	}

	if e.level > 0 {
		p.TakeProfits[e.level-1].fired = true
	}
	p.Remaining -= e.Fraction
	if p.Remaining < closeEpsilon {
		p.Remaining = 0
	}
	p.RealizedPnL += pnl

	if p.Remaining > 0 {
		// Partial take-profit: back to Open, monitor keeps running on
		// the remaining exposure.
		return false, p.Transition(Open)
	}

	p.CloseReason = e.Reason
	p.ClosedAt = now
	return true, p.Transition(Closed)
}

// closeEpsilon absorbs float drift when the take-profit fractions
// should sum to exactly 1.
const closeEpsilon = 1e-9

// TakeRelease returns the budget amount to hand back to the ledger
// for a closed fraction, clamped so that over the position's lifetime
// exactly AmountCommitted is released, never more. A final (terminal)
// release takes everything still outstanding.
func (p *Position) TakeRelease(fraction float64, final bool) float64 {
	var amt float64
	if final {
		amt = p.AmountCommitted - p.releasedSoFar
	} else {
		amt = p.AmountCommitted * fraction
		if rest := p.AmountCommitted - p.releasedSoFar; amt > rest {
			amt = rest
		}
	}
	if amt < 0 {
		amt = 0
	}
	p.releasedSoFar += amt
	return amt
}

// RecordCloseFailure counts a failed close swap and reports whether
// the bounded retry budget is exhausted.
func (p *Position) RecordCloseFailure(maxAttempts int) bool {
	p.closeFailures++
	return p.closeFailures >= maxAttempts
}
