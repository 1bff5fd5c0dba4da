// Package journal persists engine state for audit and crash
// recovery: position lifecycles, close events, and periodic ledger
// and breaker snapshots. Persistence is best effort: the engine
// logs journal failures and keeps trading.
package journal

import (
	"time"

	"github.com/sandroneterpone/ye-meme-trader/risk"
)

// PositionRecord is the persisted view of a position. It is written
// when the position opens and rewritten when it reaches a terminal
// state.
type PositionRecord struct {
	PositionID  string
	Token       string
	Side        string
	Status      string
	Amount      float64 // native units committed
	EntryPrice  float64
	OpenedAt    time.Time
	ClosedAt    time.Time
	RealizedPnL float64
	CloseReason string
}

// CloseRecord is one close event; partial take-profits produce one
// row each.
type CloseRecord struct {
	PositionID string
	Token      string
	Fraction   float64
	Amount     float64 // native units returned by this close
	FillPrice  float64
	PnL        float64
	Reason     string
	Time       time.Time
}

type Journal interface {
	RecordPosition(PositionRecord) error
	RecordClose(CloseRecord) error
	RecordLedger(risk.LedgerSnapshot) error
	RecordBreaker(risk.BreakerSnapshot) error
	Close() error
}

// Nop discards everything. Used when no journal is configured; the
// engine tolerates the absence of persistence.
type Nop struct{}

func (Nop) RecordPosition(PositionRecord) error      { return nil }
func (Nop) RecordClose(CloseRecord) error            { return nil }
func (Nop) RecordLedger(risk.LedgerSnapshot) error   { return nil }
func (Nop) RecordBreaker(risk.BreakerSnapshot) error { return nil }
func (Nop) Close() error                             { return nil }
