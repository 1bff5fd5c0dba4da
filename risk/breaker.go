package risk

import (
	"math"
	"sync"
	"time"
)

const dailyWindow = 24 * time.Hour

// Limits is the static circuit-breaker configuration.
type Limits struct {
	MaxDailyTrades int           // trade-open count cap per 24h window
	MaxDailyLoss   float64       // accrued realized loss cap per window
	MaxErrors      int           // consecutive error cap
	ErrorTimeout   time.Duration // cool-off after MaxErrors is reached
}

// Breaker gates whether new trades may open, based on rolling error
// counts, daily trade counts and daily realized loss.
//
// A loss-based halt is sticky for the remainder of the 24h window.
// The error gate self-clears once ErrorTimeout elapses after the last
// error; a successful trade open never resets the error counter, so a
// single lucky fill cannot mask a broken integration.
type Breaker struct {
	mu sync.Mutex

	limits Limits
	now    func() time.Time // overridable in tests

	windowStart time.Time
	dailyTrades int
	dailyLoss   float64
	errorCount  int
	lastErrorAt time.Time
	halted      bool
	haltReason  string
}

// BreakerSnapshot is a consistent view of the breaker state.
type BreakerSnapshot struct {
	WindowStart time.Time
	DailyTrades int
	DailyLoss   float64
	ErrorCount  int
	LastErrorAt time.Time
	Halted      bool
	HaltReason  string
}

func NewBreaker(limits Limits) *Breaker {
	return newBreaker(limits, time.Now)
}

func newBreaker(limits Limits, now func() time.Time) *Breaker {
	return &Breaker{
		limits:      limits,
		now:         now,
		windowStart: now(),
	}
}

// resetWindowLocked rolls the daily window forward once 24h have
// elapsed since windowStart. Called on every access under the mutex,
// so the reset is atomic with any concurrent read. The window anchor
// advances in whole 24h steps to keep a stable daily cadence.
//
// Only the daily counters reset here. The error gate runs on its own
// timeout and carries across the window boundary.
func (b *Breaker) resetWindowLocked(now time.Time) {
	if now.Sub(b.windowStart) < dailyWindow {
		return
	}
	steps := now.Sub(b.windowStart) / dailyWindow
	b.windowStart = b.windowStart.Add(steps * dailyWindow)
	b.dailyTrades = 0
	b.dailyLoss = 0
	b.halted = false
	b.haltReason = ""
}

// MayTrade reports whether a new trade may be opened.
func (b *Breaker) MayTrade() bool {
	ok, _ := b.Check()
	return ok
}

// Check is MayTrade with a denial reason for reporting.
func (b *Breaker) Check() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.resetWindowLocked(now)

	if b.halted {
		return false, b.haltReason
	}
	if b.limits.MaxDailyTrades > 0 && b.dailyTrades >= b.limits.MaxDailyTrades {
		return false, "max daily trades reached"
	}
	if b.limits.MaxDailyLoss > 0 && b.dailyLoss >= b.limits.MaxDailyLoss {
		// Crossing the loss cap halts for the rest of the window even
		// if later trades would be profitable.
		b.halted = true
		b.haltReason = "max daily loss reached"
		return false, b.haltReason
	}
	if b.limits.MaxErrors > 0 && b.errorCount >= b.limits.MaxErrors {
		if now.Sub(b.lastErrorAt) < b.limits.ErrorTimeout {
			return false, "too many consecutive errors"
		}
		// Timeout elapsed with no further errors: the gate clears.
		b.errorCount = 0
	}
	return true, ""
}

// RecordTradeOpened counts a successfully opened trade against the
// daily cap. It does not touch the error counter.
func (b *Breaker) RecordTradeOpened() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowLocked(b.now())
	b.dailyTrades++
}

// RecordTradeClosed accrues realized losses against the daily loss
// cap. Profits do not offset accrued loss.
func (b *Breaker) RecordTradeClosed(realizedPnL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowLocked(b.now())
	if realizedPnL < 0 {
		b.dailyLoss += math.Abs(realizedPnL)
		if b.limits.MaxDailyLoss > 0 && b.dailyLoss >= b.limits.MaxDailyLoss {
			b.halted = true
			b.haltReason = "max daily loss reached"
		}
	}
}

// RecordError counts a failed external call.
func (b *Breaker) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowLocked(b.now())
	b.errorCount++
	b.lastErrorAt = b.now()
}

// Halt forces the breaker open until the next window reset. Used for
// operator emergency stops and ledger corruption.
func (b *Breaker) Halt(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halted = true
	b.haltReason = reason
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowLocked(b.now())
	return BreakerSnapshot{
		WindowStart: b.windowStart,
		DailyTrades: b.dailyTrades,
		DailyLoss:   b.dailyLoss,
		ErrorCount:  b.errorCount,
		LastErrorAt: b.lastErrorAt,
		Halted:      b.halted,
		HaltReason:  b.haltReason,
	}
}
