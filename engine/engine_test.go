package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandroneterpone/ye-meme-trader/broker"
	"github.com/sandroneterpone/ye-meme-trader/market"
	"github.com/sandroneterpone/ye-meme-trader/notify"
	"github.com/sandroneterpone/ye-meme-trader/position"
	"github.com/sandroneterpone/ye-meme-trader/risk"
)

const (
	eventuallyFor  = 3 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

// recorder captures notifications for assertions.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) has(kind notify.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		MaxTradeFraction: 0.5,
		MinTradeAmount:   0.1,
		MaxTradeAmount:   100,
		StopLossPct:      0.15,
		TrailingPct:      0.10,
		ActivationPct:    0.25,
		PollInterval:     10 * time.Millisecond,
		CallTimeout:      time.Second,
		SwapRetries:      2,
		MaxCloseRetries:  3,
	}
}

func testLimits() risk.Limits {
	return risk.Limits{
		MaxDailyTrades: 100,
		MaxDailyLoss:   1000,
		MaxErrors:      100,
		ErrorTimeout:   time.Second,
	}
}

func newTestEngine(t *testing.T, budget float64, cfg Config, limits risk.Limits, paper *broker.Paper) (*Engine, *recorder) {
	t.Helper()

	ledger, err := risk.NewLedger(budget)
	require.NoError(t, err)
	rec := &recorder{}
	e := New(cfg, ledger, risk.NewBreaker(limits), Deps{
		Quotes:   paper,
		Executor: paper,
		Safety:   paper,
		Notifier: rec,
	})
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, rec
}

func buySignal(token string, confidence float64) market.Signal {
	return market.Signal{
		ID:         "sig-" + token,
		Token:      token,
		Side:       market.Buy,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestSubmitOpensPosition(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, rec := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)
	assert.NotEmpty(t, res.PositionID)

	// confidence 1.0 of half the available budget
	assert.InDelta(t, 5.0, e.Ledger().Committed(), 1e-9)
	assert.Equal(t, 1, e.Breaker().Snapshot().DailyTrades)
	assert.Equal(t, []string{"BONK"}, e.Live())
	assert.True(t, rec.has(notify.PositionOpened))
}

func TestSizingDrainsBudget(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("AAA", 1)
	paper.SetPrice("BBB", 1)
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	// Two submissions racing size the trade from the same available
	// figure; both reservations fit.
	sizeA := e.sizeTrade(1.0)
	sizeB := e.sizeTrade(1.0)
	assert.InDelta(t, 5.0, sizeA, 1e-9)
	assert.InDelta(t, 5.0, sizeB, 1e-9)
	require.NoError(t, e.Ledger().Reserve(sizeA))
	require.NoError(t, e.Ledger().Reserve(sizeB))

	// Budget exhausted: the next signal is rejected, never queued.
	res := e.Submit(context.Background(), buySignal("CCC", 1.0))
	assert.Equal(t, Rejected, res.Status)
	assert.ErrorIs(t, res.Err, risk.ErrInsufficientBudget)
}

func TestSizingClampsToMax(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTradeAmount = 2
	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, _ := newTestEngine(t, 10, cfg, testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)
	assert.InDelta(t, 2.0, e.Ledger().Committed(), 1e-9)
}

func TestSubmitRejectsDuplicateToken(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	first := e.Submit(context.Background(), buySignal("BONK", 0.5))
	require.Equal(t, Accepted, first.Status, first.Reason)

	second := e.Submit(context.Background(), buySignal("BONK", 0.5))
	assert.Equal(t, Rejected, second.Status)
	assert.Contains(t, second.Reason, "already live")
	assert.Len(t, e.Live(), 1)
}

func TestSubmitRejectsUnsafeToken(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("SCAM", 100)
	paper.SetSafe("SCAM", false)
	e, rec := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("SCAM", 1.0))
	assert.Equal(t, Rejected, res.Status)
	assert.ErrorIs(t, res.Err, ErrSafetyCheckFailed)

	// A rejected candidate, not an operational failure: the budget
	// comes straight back and the breaker error count is untouched.
	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)
	assert.Equal(t, 0, e.Breaker().Snapshot().ErrorCount)
	assert.Empty(t, e.Live())
	assert.True(t, rec.has(notify.TradeRejected))
}

func TestSubmitOpenFailureReleasesBudget(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	paper.FailNextOpens(testConfig().SwapRetries) // every attempt fails
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	assert.Equal(t, FailedExec, res.Status)
	assert.ErrorIs(t, res.Err, ErrExecutionFailed)

	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)
	assert.Equal(t, 1, e.Breaker().Snapshot().ErrorCount)
	assert.Equal(t, 0, e.Breaker().Snapshot().DailyTrades)
	assert.Empty(t, e.Live())
}

func TestSubmitRetriesOpenOnce(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	paper.FailNextOpens(1) // first attempt fails, retry succeeds
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	assert.Equal(t, Accepted, res.Status, res.Reason)
	assert.Equal(t, 0, e.Breaker().Snapshot().ErrorCount)
}

func TestBreakerGatesSubmissions(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxDailyTrades = 1
	paper := broker.NewPaper()
	paper.SetPrice("AAA", 100)
	paper.SetPrice("BBB", 100)
	e, _ := newTestEngine(t, 10, testConfig(), limits, paper)

	first := e.Submit(context.Background(), buySignal("AAA", 0.5))
	require.Equal(t, Accepted, first.Status, first.Reason)

	second := e.Submit(context.Background(), buySignal("BBB", 0.5))
	assert.Equal(t, Rejected, second.Status)
	assert.Contains(t, second.Reason, "circuit breaker")
}

func TestStopLossClosesPosition(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxDailyLoss = 1.0
	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, rec := newTestEngine(t, 10, testConfig(), limits, paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	// Entry 100, stop at 85: a print at 80 must close the position.
	paper.SetPrice("BONK", 80)

	assert.Eventually(t, func() bool {
		return len(e.History()) == 1
	}, eventuallyFor, eventuallyTick)

	pos := e.History()[0]
	assert.Equal(t, position.Closed, pos.Status)
	assert.Equal(t, position.ReasonStopLoss, pos.CloseReason)
	assert.InDelta(t, -1.0, pos.RealizedPnL, 1e-9) // 5 units, -20%
	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)
	assert.True(t, rec.has(notify.PositionClosed))

	// The realized loss hit the daily cap: the breaker now refuses
	// further trades for the rest of the window.
	paper.SetPrice("CCC", 1)
	next := e.Submit(context.Background(), buySignal("CCC", 0.5))
	assert.Equal(t, Rejected, next.Status)
	assert.Contains(t, next.Reason, "max daily loss")
}

func TestTakeProfitLadderThenTrailingStop(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TakeProfits = []position.TakeProfitTarget{{GainPct: 0.5, Fraction: 0.5}}
	paper := broker.NewPaper()
	paper.SetPrice("WIF", 100)
	e, rec := newTestEngine(t, 10, cfg, testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("WIF", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	// 160 fires the take-profit rung (trigger 150) for half the
	// position and arms the trailing stop (activation at 125).
	paper.SetPrice("WIF", 160)
	assert.Eventually(t, func() bool {
		return rec.has(notify.PartialClose)
	}, eventuallyFor, eventuallyTick)
	assert.InDelta(t, 2.5, e.Ledger().Committed(), 1e-9)
	assert.Len(t, e.History(), 0) // still live on the remaining half

	// High 160, trail at 144: a drop to 140 closes the rest.
	paper.SetPrice("WIF", 140)
	assert.Eventually(t, func() bool {
		return len(e.History()) == 1
	}, eventuallyFor, eventuallyTick)

	pos := e.History()[0]
	assert.Equal(t, position.Closed, pos.Status)
	assert.Equal(t, position.ReasonTrailingStop, pos.CloseReason)
	// +60% on the first half, +40% on the second
	assert.InDelta(t, 2.5*0.6+2.5*0.4, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)
}

func TestCloseRetriesExhaustedForcesFailed(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SwapRetries = 1
	cfg.MaxCloseRetries = 2
	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, rec := newTestEngine(t, 10, cfg, testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	paper.FailNextCloses(1000)
	paper.SetPrice("BONK", 50) // deep under the stop

	assert.Eventually(t, func() bool {
		return len(e.History()) == 1
	}, eventuallyFor, eventuallyTick)

	pos := e.History()[0]
	assert.Equal(t, position.Failed, pos.Status)
	assert.Equal(t, position.ReasonForced, pos.CloseReason)
	// The reservation must not be stranded on a broken position.
	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)
	assert.GreaterOrEqual(t, e.Breaker().Snapshot().ErrorCount, 2)
	assert.True(t, rec.has(notify.EngineHalted))
	assert.Empty(t, e.Live())
}

func TestCloseFailureThenRecovery(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SwapRetries = 1
	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, _ := newTestEngine(t, 10, cfg, testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	// One failed close round puts the position back to Open; the
	// monitor fires again and the next round succeeds.
	paper.FailNextCloses(1)
	paper.SetPrice("BONK", 80)

	assert.Eventually(t, func() bool {
		return len(e.History()) == 1
	}, eventuallyFor, eventuallyTick)

	pos := e.History()[0]
	assert.Equal(t, position.Closed, pos.Status)
	assert.Equal(t, position.ReasonStopLoss, pos.CloseReason)
	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)
}

// A take-profit close that fails keeps its rung live: the monitor
// fires the same rung on a later tick and the partial close still
// lands once the swap goes through.
func TestTakeProfitCloseFailureRetries(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SwapRetries = 1
	cfg.TakeProfits = []position.TakeProfitTarget{{GainPct: 0.5, Fraction: 0.5}}
	paper := broker.NewPaper()
	paper.SetPrice("WIF", 100)
	e, rec := newTestEngine(t, 10, cfg, testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("WIF", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	paper.FailNextCloses(1)
	paper.SetPrice("WIF", 160)

	assert.Eventually(t, func() bool {
		return rec.has(notify.PartialClose)
	}, eventuallyFor, eventuallyTick)
	assert.InDelta(t, 2.5, e.Ledger().Committed(), 1e-9)
	assert.Len(t, e.History(), 0) // still live on the remaining half
}

func TestSellSignalClosesLivePosition(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	sell := market.Signal{ID: "sig-sell", Token: "BONK", Side: market.Sell, Confidence: 1.0}
	out := e.Submit(context.Background(), sell)
	assert.Equal(t, Accepted, out.Status)

	assert.Eventually(t, func() bool {
		return len(e.History()) == 1
	}, eventuallyFor, eventuallyTick)
	assert.Equal(t, position.ReasonSignal, e.History()[0].CloseReason)
}

func TestSellSignalWithoutPosition(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	sell := market.Signal{ID: "sig-sell", Token: "BONK", Side: market.Sell}
	res := e.Submit(context.Background(), sell)
	assert.Equal(t, Rejected, res.Status)
	assert.Contains(t, res.Reason, "no open position")
}

func TestCancelClosesAtNextTick(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	e, _ := newTestEngine(t, 10, testConfig(), testLimits(), paper)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	require.NoError(t, e.Cancel("BONK"))
	assert.Eventually(t, func() bool {
		return len(e.History()) == 1
	}, eventuallyFor, eventuallyTick)
	assert.Equal(t, position.ReasonCancelled, e.History()[0].CloseReason)
	assert.InDelta(t, 10.0, e.Ledger().Available(), 1e-9)

	assert.Error(t, e.Cancel("BONK")) // nothing live anymore
}

func TestMonitorSurvivesQuoteOutage(t *testing.T) {
	t.Parallel()

	paper := broker.NewPaper()
	paper.SetPrice("BONK", 100)
	flaky := &outageQuotes{paper: paper, failures: 3}

	ledger, err := risk.NewLedger(10)
	require.NoError(t, err)
	e := New(testConfig(), ledger, risk.NewBreaker(testLimits()), Deps{
		Quotes:   flaky,
		Executor: paper,
		Safety:   paper,
		Notifier: &recorder{},
	})
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	res := e.Submit(context.Background(), buySignal("BONK", 1.0))
	require.Equal(t, Accepted, res.Status, res.Reason)

	assert.Eventually(t, func() bool {
		return flaky.calls() >= 4 // outage over, quotes flowing again
	}, eventuallyFor, eventuallyTick)
	assert.Equal(t, 0, e.Breaker().Snapshot().ErrorCount)
	assert.Equal(t, []string{"BONK"}, e.Live())
}

// outageQuotes fails the first N quote calls, then delegates.
type outageQuotes struct {
	mu       sync.Mutex
	paper    *broker.Paper
	failures int
	n        int
}

func (o *outageQuotes) GetQuote(ctx context.Context, token string) (market.Quote, error) {
	o.mu.Lock()
	o.n++
	fail := o.n <= o.failures
	o.mu.Unlock()
	if fail {
		return market.Quote{}, errors.New("rpc node down")
	}
	return o.paper.GetQuote(ctx, token)
}

func (o *outageQuotes) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}
