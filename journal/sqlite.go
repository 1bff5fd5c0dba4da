package journal

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sandroneterpone/ye-meme-trader/risk"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// RecordPosition upserts the position row, so the open-time write and
// the terminal rewrite share one call site.
func (j *SQLite) RecordPosition(p PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(position_id, token, side, status, amount, entry_price, opened_at, closed_at, realized_pnl, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			status=excluded.status,
			closed_at=excluded.closed_at,
			realized_pnl=excluded.realized_pnl,
			close_reason=excluded.close_reason`,
		p.PositionID, p.Token, p.Side, p.Status, p.Amount, p.EntryPrice,
		p.OpenedAt, p.ClosedAt, p.RealizedPnL, p.CloseReason,
	)
	return err
}

func (j *SQLite) RecordClose(c CloseRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO closes
		(position_id, token, fraction, amount, fill_price, pnl, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PositionID, c.Token, c.Fraction, c.Amount, c.FillPrice, c.PnL, c.Reason, c.Time,
	)
	return err
}

func (j *SQLite) RecordLedger(s risk.LedgerSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO ledger_snapshots (time, total, committed, available)
		VALUES (?, ?, ?, ?)`,
		s.Time, s.Total, s.Committed, s.Available,
	)
	return err
}

func (j *SQLite) RecordBreaker(s risk.BreakerSnapshot) error {
	halted := 0
	if s.Halted {
		halted = 1
	}
	_, err := j.db.Exec(`
		INSERT INTO breaker_snapshots
		(time, window_start, daily_trades, daily_loss, error_count, halted, halt_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), s.WindowStart, s.DailyTrades, s.DailyLoss,
		s.ErrorCount, halted, s.HaltReason,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
