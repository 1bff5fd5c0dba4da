// Package engine is the position lifecycle and risk-control core: it
// turns trade signals into sized, budgeted positions, supervises each
// open position with a monitor goroutine, and settles closes against
// the budget ledger and circuit breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sandroneterpone/ye-meme-trader/broker"
	"github.com/sandroneterpone/ye-meme-trader/journal"
	"github.com/sandroneterpone/ye-meme-trader/market"
	"github.com/sandroneterpone/ye-meme-trader/metrics"
	"github.com/sandroneterpone/ye-meme-trader/notify"
	"github.com/sandroneterpone/ye-meme-trader/position"
	"github.com/sandroneterpone/ye-meme-trader/risk"
)

// Config is the engine's own tuning; risk limits live in the ledger
// and breaker passed to New.
type Config struct {
	MaxTradeFraction float64 // of available budget, per trade
	MinTradeAmount   float64
	MaxTradeAmount   float64

	StopLossPct   float64
	TrailingPct   float64
	ActivationPct float64
	TakeProfits   []position.TakeProfitTarget

	PollInterval    time.Duration
	CallTimeout     time.Duration
	SwapRetries     int // attempts per open/close swap
	MaxCloseRetries int // failed close rounds before forcing Failed
}

// Deps are the external collaborators. Journal and Notifier may be
// nil; persistence and notification are best effort.
type Deps struct {
	Quotes   broker.QuoteProvider
	Executor broker.SwapExecutor
	Safety   broker.SafetyChecker
	Journal  journal.Journal
	Notifier notify.Notifier
}

// closeRequest is the monitor→engine handoff. The engine closes done
// once the request is settled, so monitor and engine never touch the
// position concurrently.
type closeRequest struct {
	pos  *position.Position
	exit position.Exit
	done chan struct{}
}

type Engine struct {
	cfg     Config
	ledger  *risk.Ledger
	breaker *risk.Breaker
	deps    Deps

	mu       sync.Mutex
	live     map[string]*position.Position // token -> non-terminal position
	monitors map[string]*monitor
	history  []*position.Position
	haltErr  error

	closeReqs chan closeRequest
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, ledger *risk.Ledger, breaker *risk.Breaker, deps Deps) *Engine {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	if cfg.SwapRetries < 1 {
		cfg.SwapRetries = 1
	}
	if cfg.MaxCloseRetries < 1 {
		cfg.MaxCloseRetries = 1
	}
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		breaker:   breaker,
		deps:      deps,
		live:      make(map[string]*position.Position),
		monitors:  make(map[string]*monitor),
		closeReqs: make(chan closeRequest),
	}
}

// Start launches the settlement loop. It must be called before any
// Submit so monitors have a context to run under.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run()
}

// Stop cancels monitors and waits for the settlement loop to drain.
func (e *Engine) Stop() {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.wg.Wait()
}

// Err reports why the engine halted, or nil. A non-nil value means
// ledger corruption was detected and no further trades will run.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltErr
}

func (e *Engine) run() {
	defer e.wg.Done()

	snapshots := time.NewTicker(time.Minute)
	defer snapshots.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case req := <-e.closeReqs:
			e.settleClose(req)
			close(req.done)
		case <-snapshots.C:
			e.persistSnapshots()
		}
	}
}

func (e *Engine) persistSnapshots() {
	if err := e.deps.Journal.RecordLedger(e.ledger.Snapshot()); err != nil {
		log.Printf("engine: ledger snapshot: %v", err)
	}
	snap := e.breaker.Snapshot()
	if err := e.deps.Journal.RecordBreaker(snap); err != nil {
		log.Printf("engine: breaker snapshot: %v", err)
	}
	if snap.Halted {
		metrics.BreakerHalted.Set(1)
	} else {
		metrics.BreakerHalted.Set(0)
	}
}

// Submit runs a trade signal through the admission pipeline: breaker
// gate, duplicate gate, sizing, budget reservation, safety screen,
// swap execution. Safe for concurrent use.
func (e *Engine) Submit(ctx context.Context, sig market.Signal) Result {
	if err := e.Err(); err != nil {
		return rejected(sig, "", fmt.Sprintf("engine halted: %v", err))
	}

	if sig.Side == market.Sell {
		return e.submitSell(sig)
	}

	if ok, reason := e.breaker.Check(); !ok {
		return rejected(sig, "", "circuit breaker: "+reason)
	}

	// Size against the available budget before anything is reserved.
	amount := e.sizeTrade(sig.Confidence)
	if amount < e.cfg.MinTradeAmount || amount <= 0 {
		return rejectedErr(sig, "", risk.ErrInsufficientBudget,
			fmt.Sprintf("sized %.6f below minimum %.6f", amount, e.cfg.MinTradeAmount))
	}

	pos, res := e.admit(sig, amount)
	if pos == nil {
		return res
	}

	return e.open(ctx, pos, amount)
}

// sizeTrade computes the trade size: confidence scales the configured
// fraction of whatever budget is currently uncommitted, clamped to
// the per-trade bounds.
func (e *Engine) sizeTrade(confidence float64) float64 {
	amount := confidence * e.ledger.Available() * e.cfg.MaxTradeFraction
	if e.cfg.MaxTradeAmount > 0 && amount > e.cfg.MaxTradeAmount {
		amount = e.cfg.MaxTradeAmount
	}
	return amount
}

// admit registers a Pending position for the token and reserves its
// budget. At most one live position may exist per token.
func (e *Engine) admit(sig market.Signal, amount float64) (*position.Position, Result) {
	e.mu.Lock()
	if _, exists := e.live[sig.Token]; exists {
		e.mu.Unlock()
		return nil, rejected(sig, "", "position already live for token")
	}
	pos := position.New(sig, position.Params{
		Amount:        amount,
		StopLossPct:   e.cfg.StopLossPct,
		TrailingPct:   e.cfg.TrailingPct,
		ActivationPct: e.cfg.ActivationPct,
		TakeProfits:   e.cfg.TakeProfits,
	})
	e.live[sig.Token] = pos
	e.mu.Unlock()

	if err := e.ledger.Reserve(amount); err != nil {
		e.discard(pos, position.Failed)
		return nil, rejectedErr(sig, pos.ID, err, "")
	}
	return pos, Result{}
}

// open walks the position from Pending to Open, releasing the
// reservation on any failure along the way.
func (e *Engine) open(ctx context.Context, pos *position.Position, amount float64) Result {
	sigRef := market.Signal{ID: pos.Signal, Token: pos.Token}

	must(pos.Transition(position.Validating))
	ok, err := e.validate(ctx, pos.Token)
	if ctx.Err() != nil {
		e.releaseAll(pos)
		e.discard(pos, position.Cancelled)
		return rejected(sigRef, pos.ID, "submission cancelled")
	}
	if err != nil || !ok {
		e.releaseAll(pos)
		e.discard(pos, position.Failed)
		reason := "safety check failed"
		if err != nil {
			reason = fmt.Sprintf("safety check error: %v", err)
		}
		e.notify(notify.Event{
			Kind: notify.TradeRejected, Token: pos.Token, Reason: reason, Time: time.Now().UTC(),
		})
		return rejectedErr(sigRef, pos.ID, ErrSafetyCheckFailed, reason)
	}

	must(pos.Transition(position.Executing))
	fill, err := e.openSwap(ctx, pos, amount)
	if err != nil {
		e.releaseAll(pos)
		e.discard(pos, position.Failed)
		e.breaker.RecordError()
		metrics.Errors.Inc()
		return failed(sigRef, pos.ID, err)
	}

	if err := pos.MarkOpen(fill.Price, time.Now().UTC()); err != nil {
		// Bad fill price from the executor: treat like an execution
		// failure so the budget comes back.
		e.releaseAll(pos)
		e.discard(pos, position.Failed)
		e.breaker.RecordError()
		metrics.Errors.Inc()
		return failed(sigRef, pos.ID, fmt.Errorf("%w: %v", ErrExecutionFailed, err))
	}

	e.breaker.RecordTradeOpened()
	e.recordPosition(pos)
	e.notify(notify.Event{
		Kind:       notify.PositionOpened,
		Token:      pos.Token,
		PositionID: pos.ID,
		Amount:     pos.AmountCommitted,
		Price:      pos.EntryPrice,
		Time:       time.Now().UTC(),
	})
	metrics.Signals.WithLabelValues("accepted").Inc()
	metrics.CommittedCapital.Set(e.ledger.Committed())

	e.startMonitor(pos)

	return Result{Status: Accepted, PositionID: pos.ID, Token: pos.Token}
}

// submitSell routes a sell signal to the live position for the token,
// if any: sell signals close exposure, they never open it.
func (e *Engine) submitSell(sig market.Signal) Result {
	e.mu.Lock()
	m := e.monitors[sig.Token]
	e.mu.Unlock()

	if m == nil {
		return rejected(sig, "", "no open position for sell signal")
	}
	m.requestClose(position.ReasonSignal)
	return Result{Status: Accepted, PositionID: m.pos.ID, Token: sig.Token}
}

// Cancel asks the monitor for token to close the position at the next
// tick boundary. An in-flight swap always runs to completion first.
func (e *Engine) Cancel(token string) error {
	e.mu.Lock()
	m := e.monitors[token]
	e.mu.Unlock()

	if m == nil {
		return fmt.Errorf("no live position for %s", token)
	}
	m.requestClose(position.ReasonCancelled)
	return nil
}

// Ledger exposes the budget ledger for status reporting.
func (e *Engine) Ledger() *risk.Ledger { return e.ledger }

// Breaker exposes the circuit breaker for status reporting.
func (e *Engine) Breaker() *risk.Breaker { return e.breaker }

// Live returns the tokens with a non-terminal position.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.live))
	for token := range e.live {
		out = append(out, token)
	}
	return out
}

// History returns archived (terminal) positions, oldest first.
func (e *Engine) History() []*position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*position.Position(nil), e.history...)
}

func (e *Engine) validate(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.deps.Safety.Validate(ctx, token)
}

// openSwap executes the open with bounded retries; each attempt gets
// its own timeout and a timeout counts as a failure.
func (e *Engine) openSwap(ctx context.Context, pos *position.Position, amount float64) (broker.Fill, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.SwapRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		fill, err := e.deps.Executor.Open(callCtx, pos.Token, pos.Side, amount)
		cancel()
		if err == nil {
			return fill, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return broker.Fill{}, fmt.Errorf("%w: %v", ErrExecutionTimeout, lastErr)
	}
	return broker.Fill{}, fmt.Errorf("%w: %v", ErrExecutionFailed, lastErr)
}

func (e *Engine) closeSwap(pos *position.Position, amount float64) (broker.Fill, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.SwapRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
		fill, err := e.deps.Executor.Close(callCtx, pos.Token, amount)
		cancel()
		if err == nil {
			return fill, nil
		}
		lastErr = err
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return broker.Fill{}, fmt.Errorf("%w: %v", ErrExecutionTimeout, lastErr)
	}
	return broker.Fill{}, fmt.Errorf("%w: %v", ErrExecutionFailed, lastErr)
}

// settleClose executes one close request from a monitor. Runs on the
// settlement goroutine; the requesting monitor is parked until done
// is closed, so this is the only writer of the position here.
func (e *Engine) settleClose(req closeRequest) {
	pos, exit := req.pos, req.exit
	if pos.Status != position.Open {
		return // stale request, position already settled
	}

	must(pos.Transition(position.Closing))
	closeAmount := pos.AmountCommitted * exit.Fraction

	fill, err := e.closeSwap(pos, closeAmount)
	if err != nil {
		e.breaker.RecordError()
		metrics.Errors.Inc()

		if pos.RecordCloseFailure(e.cfg.MaxCloseRetries) {
			// Retry budget exhausted: force the position out so it
			// cannot hold capital forever.
			e.releaseAll(pos)
			must(pos.Transition(position.Failed))
			pos.CloseReason = position.ReasonForced
			pos.ClosedAt = time.Now().UTC()
			e.recordPosition(pos)
			e.retire(pos)
			e.notify(notify.Event{
				Kind:       notify.EngineHalted,
				Token:      pos.Token,
				PositionID: pos.ID,
				Reason:     fmt.Sprintf("position %s forced to failed after repeated close errors: %v", pos.ID, err),
				Time:       time.Now().UTC(),
			})
			return
		}

		// Back to Open; the monitor stays alive and will fire again.
		must(pos.Transition(position.Open))
		log.Printf("engine: close %s failed, will retry: %v", pos.ID, err)
		return
	}

	pnl := closeAmount * (fill.Price - pos.EntryPrice) / pos.EntryPrice
	full, err := pos.ApplyClose(exit, pnl, time.Now().UTC())
	if err != nil {
		e.halt(fmt.Errorf("settle close %s: %w", pos.ID, err))
		return
	}

	released := pos.TakeRelease(exit.Fraction, full)
	if released > 0 {
		if err := e.ledger.Release(released); err != nil {
			e.halt(err)
			return
		}
	}

	e.breaker.RecordTradeClosed(pnl)
	metrics.Exits.WithLabelValues(exit.Reason).Inc()
	metrics.CommittedCapital.Set(e.ledger.Committed())
	metrics.RealizedPnL.Add(pnl)

	e.recordClose(pos, exit, closeAmount, fill.Price, pnl)

	kind := notify.PartialClose
	if full {
		kind = notify.PositionClosed
		e.recordPosition(pos)
		e.retire(pos)
	}
	e.notify(notify.Event{
		Kind:       kind,
		Token:      pos.Token,
		PositionID: pos.ID,
		Amount:     closeAmount,
		Price:      fill.Price,
		PnL:        pnl,
		Reason:     exit.Reason,
		Time:       time.Now().UTC(),
	})
}

// halt stops all trading after a ledger invariant violation. The
// breaker latches so MayTrade reports the stop, monitors are torn
// down, and Err surfaces the cause.
func (e *Engine) halt(err error) {
	e.mu.Lock()
	if e.haltErr == nil {
		e.haltErr = fmt.Errorf("%w: %v", ErrEngineHalted, err)
	}
	e.mu.Unlock()

	e.breaker.Halt("engine halted: budget invariant violation")
	metrics.BreakerHalted.Set(1)
	log.Printf("engine: HALT: %v", err)
	e.notify(notify.Event{
		Kind:   notify.EngineHalted,
		Reason: err.Error(),
		Time:   time.Now().UTC(),
	})
	if e.runCancel != nil {
		e.runCancel()
	}
}

// releaseAll returns whatever part of the reservation is still held.
func (e *Engine) releaseAll(pos *position.Position) {
	amount := pos.TakeRelease(1, true)
	if amount == 0 {
		return
	}
	if err := e.ledger.Release(amount); err != nil {
		e.halt(err)
	}
	metrics.CommittedCapital.Set(e.ledger.Committed())
}

// discard moves a never-opened position to a terminal state and drops
// it from the live set. Rejected candidates are logged, not archived.
func (e *Engine) discard(pos *position.Position, to position.Status) {
	if err := pos.Transition(to); err != nil {
		log.Printf("engine: discard %s: %v", pos.ID, err)
	}
	e.mu.Lock()
	delete(e.live, pos.Token)
	e.mu.Unlock()
}

// retire archives a terminal position and tears down its monitor.
func (e *Engine) retire(pos *position.Position) {
	e.mu.Lock()
	delete(e.live, pos.Token)
	delete(e.monitors, pos.Token)
	e.history = append(e.history, pos)
	e.mu.Unlock()
	metrics.OpenPositions.Set(float64(e.openCount()))
}

func (e *Engine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.monitors)
}

func (e *Engine) startMonitor(pos *position.Position) {
	m := newMonitor(e, pos)
	e.mu.Lock()
	e.monitors[pos.Token] = m
	e.mu.Unlock()
	metrics.OpenPositions.Set(float64(e.openCount()))

	e.wg.Add(1)
	go m.run(e.runCtx)
}

// notify is best effort: a sink failure is logged and never touches
// position state.
func (e *Engine) notify(event notify.Event) {
	if err := e.deps.Notifier.Notify(event); err != nil {
		log.Printf("engine: notify: %v", err)
	}
}

func (e *Engine) recordPosition(pos *position.Position) {
	if err := e.deps.Journal.RecordPosition(journal.PositionRecord{
		PositionID:  pos.ID,
		Token:       pos.Token,
		Side:        pos.Side.String(),
		Status:      pos.Status.String(),
		Amount:      pos.AmountCommitted,
		EntryPrice:  pos.EntryPrice,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    pos.ClosedAt,
		RealizedPnL: pos.RealizedPnL,
		CloseReason: pos.CloseReason,
	}); err != nil {
		log.Printf("engine: journal position %s: %v", pos.ID, err)
	}
}

func (e *Engine) recordClose(pos *position.Position, exit position.Exit, amount, fillPrice, pnl float64) {
	if err := e.deps.Journal.RecordClose(journal.CloseRecord{
		PositionID: pos.ID,
		Token:      pos.Token,
		Fraction:   exit.Fraction,
		Amount:     amount,
		FillPrice:  fillPrice,
		PnL:        pnl,
		Reason:     exit.Reason,
		Time:       time.Now().UTC(),
	}); err != nil {
		log.Printf("engine: journal close %s: %v", pos.ID, err)
	}
}

// must guards transitions whose legality is established by the
// calling sequence; a failure here is a bug in the state machine.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
