package engine

import (
	"context"
	"log"
	"time"

	"github.com/sandroneterpone/ye-meme-trader/market"
	"github.com/sandroneterpone/ye-meme-trader/position"
)

// maxQuoteBackoff caps the polling backoff while the quote source is
// unreachable; the position is flying blind until quotes return, so
// we never back off for long.
const maxQuoteBackoff = time.Minute

// monitor supervises one open position: it polls quotes, feeds the
// position's exit evaluation, and hands any triggered exit to the
// engine's settlement loop. The monitor is the position's only price
// writer; status writes happen on the settlement goroutine while the
// monitor is parked on the request's done channel.
type monitor struct {
	engine *Engine
	pos    *position.Position

	// closeReq carries an externally requested close reason, picked
	// up at the next tick boundary. Capacity one; the first request
	// wins.
	closeReq chan string
}

func newMonitor(e *Engine, pos *position.Position) *monitor {
	return &monitor{
		engine:   e,
		pos:      pos,
		closeReq: make(chan string, 1),
	}
}

// requestClose asks the monitor to close the full remaining position
// for the given reason. Never blocks; duplicate requests are dropped.
func (m *monitor) requestClose(reason string) {
	select {
	case m.closeReq <- reason:
	default:
	}
}

func (m *monitor) run(ctx context.Context) {
	defer m.engine.wg.Done()

	interval := m.engine.cfg.PollInterval
	backoff := interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-m.closeReq:
			if !m.submitExit(ctx, position.Exit{Reason: reason, Fraction: m.pos.Remaining}) {
				return
			}
			timer.Reset(interval)
			continue
		case <-timer.C:
		}

		// A close request that raced the tick still wins the tick.
		select {
		case reason := <-m.closeReq:
			if !m.submitExit(ctx, position.Exit{Reason: reason, Fraction: m.pos.Remaining}) {
				return
			}
			timer.Reset(interval)
			continue
		default:
		}

		quote, err := m.fetchQuote(ctx)
		if err != nil {
			// No price, no exit decision. Back off and keep trying;
			// quote failures are not breaker errors.
			backoff *= 2
			if backoff > maxQuoteBackoff {
				backoff = maxQuoteBackoff
			}
			log.Printf("monitor %s: quote: %v (retrying in %s)", m.pos.Token, err, backoff)
			timer.Reset(backoff)
			continue
		}
		backoff = interval

		m.pos.ObservePrice(quote.Price)
		if exit, ok := m.pos.EvaluateExit(quote.Price); ok {
			if !m.submitExit(ctx, exit) {
				return
			}
		}
		timer.Reset(interval)
	}
}

func (m *monitor) fetchQuote(ctx context.Context) (market.Quote, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.engine.cfg.CallTimeout)
	defer cancel()
	return m.engine.deps.Quotes.GetQuote(callCtx, m.pos.Token)
}

// submitExit hands an exit to the settlement loop and parks until the
// engine has settled it. Returns false when the monitor should stop,
// either because the position went terminal or the engine shut down.
func (m *monitor) submitExit(ctx context.Context, exit position.Exit) bool {
	req := closeRequest{pos: m.pos, exit: exit, done: make(chan struct{})}
	select {
	case m.engine.closeReqs <- req:
	case <-ctx.Done():
		return false
	}
	select {
	case <-req.done:
	case <-ctx.Done():
		return false
	}
	return !m.pos.Status.Terminal()
}
