package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// GetPosition returns a single position row by ID.
func (j *SQLite) GetPosition(positionID string) (PositionRecord, error) {
	var rec PositionRecord

	row := j.db.QueryRow(`
		SELECT position_id, token, side, status, amount, entry_price, opened_at, closed_at, realized_pnl, close_reason
		FROM positions
		WHERE position_id = ?`, positionID)

	err := row.Scan(
		&rec.PositionID,
		&rec.Token,
		&rec.Side,
		&rec.Status,
		&rec.Amount,
		&rec.EntryPrice,
		&rec.OpenedAt,
		&rec.ClosedAt,
		&rec.RealizedPnL,
		&rec.CloseReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return PositionRecord{}, fmt.Errorf("position %q not found", positionID)
		}
		return PositionRecord{}, err
	}
	return rec, nil
}

// ListClosesBetween returns close events within [start, end), oldest
// first.
func (j *SQLite) ListClosesBetween(start, end time.Time) ([]CloseRecord, error) {
	rows, err := j.db.Query(`
		SELECT position_id, token, fraction, amount, fill_price, pnl, reason, time
		FROM closes
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CloseRecord
	for rows.Next() {
		var rec CloseRecord
		if err := rows.Scan(
			&rec.PositionID,
			&rec.Token,
			&rec.Fraction,
			&rec.Amount,
			&rec.FillPrice,
			&rec.PnL,
			&rec.Reason,
			&rec.Time,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates realized results over the closes table.
type Summary struct {
	Closes      int
	Wins        int
	Losses      int
	GrossProfit float64
	GrossLoss   float64
	NetPnL      float64
}

func (j *SQLite) Summarize(start, end time.Time) (Summary, error) {
	closes, err := j.ListClosesBetween(start, end)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, c := range closes {
		s.Closes++
		s.NetPnL += c.PnL
		if c.PnL >= 0 {
			s.Wins++
			s.GrossProfit += c.PnL
		} else {
			s.Losses++
			s.GrossLoss += -c.PnL
		}
	}
	return s, nil
}
