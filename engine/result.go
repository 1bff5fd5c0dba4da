package engine

import (
	"errors"
	"log"

	"github.com/sandroneterpone/ye-meme-trader/market"
	"github.com/sandroneterpone/ye-meme-trader/metrics"
)

var (
	// ErrSafetyCheckFailed marks a token that did not pass the safety
	// screen. A rejected candidate, not an operational error.
	ErrSafetyCheckFailed = errors.New("safety check failed")

	// ErrExecutionFailed marks a swap the executor could not fill
	// within the retry budget.
	ErrExecutionFailed = errors.New("swap execution failed")

	// ErrExecutionTimeout marks a swap that ran out of time; the
	// chain-side outcome is unknown and the trade is treated as failed.
	ErrExecutionTimeout = errors.New("swap execution timed out")

	// ErrEngineHalted means a budget invariant was violated and the
	// engine refuses all further work.
	ErrEngineHalted = errors.New("engine halted")
)

// ResultStatus classifies the outcome of a submission.
type ResultStatus int

const (
	// Rejected: refused before any swap was attempted. Budget was
	// either never reserved or fully returned.
	Rejected ResultStatus = iota
	// FailedExec: a swap was attempted and did not complete.
	FailedExec
	// Accepted: the position is open (or, for a sell signal, a close
	// was queued).
	Accepted
)

func (s ResultStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case FailedExec:
		return "failed"
	default:
		return "rejected"
	}
}

// Result is the structured outcome of Submit.
type Result struct {
	Status     ResultStatus
	PositionID string
	Token      string
	Reason     string
	Err        error
}

func rejected(sig market.Signal, posID, reason string) Result {
	log.Printf("engine: signal %s (%s) rejected: %s", sig.ID, sig.Token, reason)
	metrics.Signals.WithLabelValues("rejected").Inc()
	return Result{Status: Rejected, PositionID: posID, Token: sig.Token, Reason: reason}
}

func rejectedErr(sig market.Signal, posID string, err error, reason string) Result {
	if reason == "" {
		reason = err.Error()
	}
	log.Printf("engine: signal %s (%s) rejected: %s", sig.ID, sig.Token, reason)
	metrics.Signals.WithLabelValues("rejected").Inc()
	return Result{Status: Rejected, PositionID: posID, Token: sig.Token, Reason: reason, Err: err}
}

func failed(sig market.Signal, posID string, err error) Result {
	log.Printf("engine: signal %s (%s) failed: %v", sig.ID, sig.Token, err)
	metrics.Signals.WithLabelValues("failed").Inc()
	return Result{Status: FailedExec, PositionID: posID, Token: sig.Token, Reason: err.Error(), Err: err}
}
