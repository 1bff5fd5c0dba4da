package position

// Exit is a fired exit condition: close Fraction of the original
// position for Reason.
type Exit struct {
	Reason   string
	Fraction float64
	Price    float64 // price that triggered the exit

	// level is the 1-based take-profit rung that triggered this exit,
	// 0 for every other reason. ApplyClose consumes the rung only on a
	// confirmed close, so a failed close swap leaves it live.
	level int
}

// Close reasons recorded on positions and in the journal.
const (
	ReasonTakeProfit   = "take_profit"
	ReasonTrailingStop = "trailing_stop"
	ReasonStopLoss     = "stop_loss"
	ReasonSignal       = "sell_signal"
	ReasonCancelled    = "cancelled"
	ReasonForced       = "close_retries_exhausted"
)

// ObservePrice folds a fresh quote into the running high. Only the
// position's monitor calls this, once per tick, before EvaluateExit.
func (p *Position) ObservePrice(price float64) {
	if p.Status != Open {
		return
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
}

// TrailingStopPrice is the current trailing threshold. It only
// ratchets tighter as HighestPrice rises.
func (p *Position) TrailingStopPrice() float64 {
	return p.HighestPrice * (1 - p.TrailingDistance)
}

// TrailingArmed reports whether the price has moved favorably past
// the activation threshold. Until then the trailing stop stays out of
// the way so it can never be tighter than the static stop-loss.
func (p *Position) TrailingArmed() bool { return p.trailingArmed }

// EvaluateExit checks exit conditions against the given price, in
// fixed priority order: take-profit ladder (highest unfired trigger,
// at most one level per tick), trailing stop, static stop-loss.
//
// If both a take-profit level and a stop would trigger on the same
// tick, the take-profit wins; the remaining exposure is evaluated
// fresh on the next tick.
//
// A take-profit rung is only consumed when ApplyClose confirms the
// close. A rung whose close swap fails fires again on a later tick.
func (p *Position) EvaluateExit(price float64) (Exit, bool) {
	if p.Status != Open || p.Remaining <= 0 {
		return Exit{}, false
	}

	// (a) take-profit ladder, highest trigger first.
	for i := range p.TakeProfits {
		lvl := &p.TakeProfits[i]
		if lvl.fired || price < lvl.Trigger {
			continue
		}
		frac := lvl.Fraction
		if frac > p.Remaining {
			frac = p.Remaining
		}
		return Exit{Reason: ReasonTakeProfit, Fraction: frac, Price: price, level: i + 1}, true
	}

	// (b) trailing stop, once armed.
	if p.TrailingDistance > 0 {
		if !p.trailingArmed && price >= p.TrailingArmAt {
			p.trailingArmed = true
		}
		if p.trailingArmed && price < p.TrailingStopPrice() {
			return Exit{Reason: ReasonTrailingStop, Fraction: p.Remaining, Price: price}, true
		}
	}

	// (c) static stop-loss.
	if p.StopLossPrice > 0 && price <= p.StopLossPrice {
		return Exit{Reason: ReasonStopLoss, Fraction: p.Remaining, Price: price}, true
	}

	return Exit{}, false
}
