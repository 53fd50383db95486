package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/pkrawiec/perpguard/risk"
)

type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	tw := csv.NewWriter(tf)
	ew := csv.NewWriter(ef)

	if err := tw.Write([]string{
		"trade_id", "symbol", "side", "entry_price", "exit_price", "quantity",
		"leverage", "fees_paid", "slippage", "gross_pnl", "net_pnl",
		"exit_reason", "opened_at", "closed_at",
	}); err != nil {
		return nil, err
	}
	if err := ew.Write([]string{"time", "balance", "equity", "margin_used", "drawdown"}); err != nil {
		return nil, err
	}

	tw.Flush()
	if err := tw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{tw, ew, tf, ef}, nil
}

func (j *CSVJournal) RecordTrade(t risk.Trade) error {
	if err := j.trades.Write([]string{
		t.ID,
		t.Symbol,
		t.Side.String(),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.Quantity),
		strconv.Itoa(t.Leverage),
		f(t.FeesPaid),
		f(t.SlippageRealized),
		f(t.GrossPnL),
		f(t.NetPnL),
		string(t.ExitReason),
		t.OpenedAt.Format(time.RFC3339),
		t.ClosedAt.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	if err := j.equity.Write([]string{
		e.Time.Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.Drawdown),
	}); err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
