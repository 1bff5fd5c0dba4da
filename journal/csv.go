package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/sandroneterpone/ye-meme-trader/risk"
)

// CSV appends position and close rows to two flat files. Snapshots
// are dropped; the CSV journal is an audit trail, not a recovery
// store.
type CSV struct {
	positions *csv.Writer
	closes    *csv.Writer
	pf, cf    *os.File
}

func NewCSV(positionsPath, closesPath string) (*CSV, error) {
	pf, err := os.Create(positionsPath)
	if err != nil {
		return nil, err
	}
	cf, err := os.Create(closesPath)
	if err != nil {
		pf.Close()
		return nil, err
	}

	pw := csv.NewWriter(pf)
	cw := csv.NewWriter(cf)

	if err := pw.Write([]string{"position_id", "token", "side", "status", "amount", "entry_price", "opened_at", "closed_at", "realized_pnl", "close_reason"}); err != nil {
		return nil, err
	}
	if err := cw.Write([]string{"position_id", "token", "fraction", "amount", "fill_price", "pnl", "reason", "time"}); err != nil {
		return nil, err
	}

	pw.Flush()
	if err := pw.Error(); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	return &CSV{pw, cw, pf, cf}, nil
}

func (j *CSV) RecordPosition(p PositionRecord) error {
	err := j.positions.Write([]string{
		p.PositionID,
		p.Token,
		p.Side,
		p.Status,
		f(p.Amount),
		f(p.EntryPrice),
		p.OpenedAt.Format(time.RFC3339),
		p.ClosedAt.Format(time.RFC3339),
		f(p.RealizedPnL),
		p.CloseReason,
	})
	if err != nil {
		return err
	}
	j.positions.Flush()
	return j.positions.Error()
}

func (j *CSV) RecordClose(c CloseRecord) error {
	err := j.closes.Write([]string{
		c.PositionID,
		c.Token,
		f(c.Fraction),
		f(c.Amount),
		f(c.FillPrice),
		f(c.PnL),
		c.Reason,
		c.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.closes.Flush()
	return j.closes.Error()
}

func (j *CSV) RecordLedger(risk.LedgerSnapshot) error   { return nil }
func (j *CSV) RecordBreaker(risk.BreakerSnapshot) error { return nil }

func (j *CSV) Close() error {
	j.positions.Flush()
	if err := j.positions.Error(); err != nil {
		return err
	}
	j.closes.Flush()
	if err := j.closes.Error(); err != nil {
		return err
	}

	if err := j.pf.Close(); err != nil {
		return err
	}
	return j.cf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
