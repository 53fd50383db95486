package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/risk"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t risk.Trade) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, symbol, side, entry_price, exit_price, quantity, leverage,
		 fees_paid, slippage, gross_pnl, net_pnl, exit_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, t.Side.String(), t.EntryPrice, t.ExitPrice, t.Quantity,
		t.Leverage, t.FeesPaid, t.SlippageRealized, t.GrossPnL, t.NetPnL,
		string(t.ExitReason), t.OpenedAt, t.ClosedAt,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, equity, margin_used, drawdown)
		VALUES (?, ?, ?, ?, ?)`,
		e.Time, e.Balance, e.Equity, e.MarginUsed, e.Drawdown,
	)
	return err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (risk.Trade, error) {
	row := j.db.QueryRow(`
		SELECT trade_id, symbol, side, entry_price, exit_price, quantity, leverage,
		       fees_paid, slippage, gross_pnl, net_pnl, exit_reason, opened_at, closed_at
		FROM trades
		WHERE trade_id = ?`, tradeID)

	rec, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return risk.Trade{}, fmt.Errorf("trade %q not found", tradeID)
	}
	return rec, err
}

// ListTradesClosedBetween returns trades whose close time is within [start, end),
// oldest first.
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]risk.Trade, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, symbol, side, entry_price, exit_price, quantity, leverage,
		       fees_paid, slippage, gross_pnl, net_pnl, exit_reason, opened_at, closed_at
		FROM trades
		WHERE closed_at >= ? AND closed_at < ?
		ORDER BY closed_at ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Trade
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquityBetween returns equity snapshots within [start, end), oldest first.
func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, balance, equity, margin_used, drawdown
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.Drawdown); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (risk.Trade, error) {
	var rec risk.Trade
	var side, reason string

	err := s.Scan(
		&rec.ID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice,
		&rec.Quantity, &rec.Leverage, &rec.FeesPaid, &rec.SlippageRealized,
		&rec.GrossPnL, &rec.NetPnL, &reason, &rec.OpenedAt, &rec.ClosedAt,
	)
	if err != nil {
		return risk.Trade{}, err
	}

	rec.Side, err = market.ParseSide(side)
	if err != nil {
		return risk.Trade{}, err
	}
	rec.ExitReason = risk.ExitReason(reason)
	return rec, nil
}
