// Package journal persists closed trades and equity snapshots, to SQLite for
// querying and to CSV for spreadsheets.
package journal

import (
	"time"

	"github.com/pkrawiec/perpguard/risk"
)

// EquitySnapshot is one point on the account's equity curve.
type EquitySnapshot struct {
	Time       time.Time
	Balance    float64
	Equity     float64
	MarginUsed float64
	Drawdown   float64 // fraction of peak balance
}

// Journal records closed trades and equity snapshots.
type Journal interface {
	RecordTrade(risk.Trade) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Multi fans every record out to several journals, returning the first
// error.
type Multi []Journal

func (m Multi) RecordTrade(t risk.Trade) error {
	for _, j := range m {
		if err := j.RecordTrade(t); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordEquity(e EquitySnapshot) error {
	for _, j := range m {
		if err := j.RecordEquity(e); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var first error
	for _, j := range m {
		if err := j.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
