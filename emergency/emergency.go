// Package emergency evaluates open positions against hard limits and decides
// whether to hold, reduce, or force-close them.
package emergency

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/risk"
)

// Action is the single decision returned per evaluation.
type Action string

const (
	Hold           Action = "HOLD"
	ReducePosition Action = "REDUCE_POSITION"
	ClosePosition  Action = "CLOSE_POSITION"
	MarketExit     Action = "MARKET_EXIT"
)

// Severity grades a non-HOLD decision.
type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Config holds the hard limits.
type Config struct {
	MaxDrawdownFraction        float64       // unrealized loss fraction that forces a market exit
	MaxPositionDuration        time.Duration // maximum holding time
	ExtremeVolatilityThreshold float64       // realized volatility that triggers a reduce
	LiquidationProximity       float64       // fraction of price, default 0.05
}

func DefaultConfig() Config {
	return Config{
		MaxDrawdownFraction:        0.50,
		MaxPositionDuration:        24 * time.Hour,
		ExtremeVolatilityThreshold: 0.10,
		LiquidationProximity:       0.05,
	}
}

// Inputs is one evaluation cycle's view of a position and its environment.
type Inputs struct {
	Position     risk.Position
	CurrentPrice float64
	APIHealthy   bool
	Volatility   float64
	Now          time.Time
}

// Decision is the outcome of one evaluation. Exactly one action; Reasons is
// non-empty whenever the action is not Hold.
type Decision struct {
	Action   Action
	Severity Severity
	Reasons  []string
}

func (d Decision) Emergency() bool {
	return d.Action != Hold
}

// System applies the decision table. Priority order, first match decides the
// action; all triggered conditions contribute reasons:
//
//  1. API connection lost        -> MARKET_EXIT
//  2. drawdown limit exceeded    -> MARKET_EXIT
//  3. liquidation proximity      -> MARKET_EXIT (critical severity)
//  4. extreme volatility         -> REDUCE_POSITION
//  5. held past max duration     -> CLOSE_POSITION
type System struct {
	cfg Config
	log *zap.Logger
}

func NewSystem(cfg Config, log *zap.Logger) *System {
	if log == nil {
		log = zap.NewNop()
	}
	return &System{cfg: cfg, log: log}
}

// Evaluate returns exactly one Decision for the given inputs.
func (s *System) Evaluate(in Inputs) Decision {
	d := Decision{Action: Hold, Severity: SeverityNormal}

	apply := func(a Action, sev Severity, reason string) {
		d.Reasons = append(d.Reasons, reason)
		if d.Action == Hold {
			d.Action = a
			d.Severity = sev
		}
	}

	if !in.APIHealthy {
		apply(MarketExit, SeverityHigh, "API connection lost")
	}

	// Drawdown is measured against margin, so it scales with leverage.
	if in.Position.MarginUSD > 0 {
		loss := -in.Position.UnrealizedPnL(in.CurrentPrice) / in.Position.MarginUSD
		if loss > s.cfg.MaxDrawdownFraction {
			apply(MarketExit, SeverityHigh,
				fmt.Sprintf("max drawdown exceeded: %.1f%% of margin", loss*100))
		}
	}

	if dist := in.Position.DistanceToLiquidation(in.CurrentPrice); dist < s.cfg.LiquidationProximity {
		apply(MarketExit, SeverityCritical,
			fmt.Sprintf("liquidation risk: %.2f%% from %.2f", dist*100, in.Position.LiquidationPrice))
		// Proximity to liquidation is the highest severity outcome even when
		// an earlier rule already chose the action.
		d.Severity = SeverityCritical
	}

	if in.Volatility > s.cfg.ExtremeVolatilityThreshold {
		apply(ReducePosition, SeverityHigh,
			fmt.Sprintf("extreme volatility: %.1f%%", in.Volatility*100))
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	if held := now.Sub(in.Position.OpenedAt); held > s.cfg.MaxPositionDuration {
		apply(ClosePosition, SeverityHigh,
			fmt.Sprintf("position held %.1fh, limit %.1fh", held.Hours(), s.cfg.MaxPositionDuration.Hours()))
	}

	if d.Emergency() {
		s.log.Warn("emergency condition",
			zap.String("symbol", in.Position.Symbol),
			zap.String("action", string(d.Action)),
			zap.String("severity", string(d.Severity)),
			zap.Strings("reasons", d.Reasons))
	}

	return d
}

// HaltInputs aggregate account-wide health for the halt gate.
type HaltInputs struct {
	APIHealthy      bool
	CurrentDrawdown float64 // fraction of peak balance
	MaxDrawdown     float64
	Volatility      float64
	MaxVolatility   float64
}

// ShouldHalt reports whether new entries must stop, with the reasons.
func ShouldHalt(in HaltInputs) (bool, []string) {
	var reasons []string

	if !in.APIHealthy {
		reasons = append(reasons, "API connection lost")
	}
	if in.CurrentDrawdown > in.MaxDrawdown {
		reasons = append(reasons, fmt.Sprintf("drawdown %.1f%% > %.1f%%", in.CurrentDrawdown*100, in.MaxDrawdown*100))
	}
	if in.Volatility > in.MaxVolatility {
		reasons = append(reasons, fmt.Sprintf("volatility %.1f%% > %.1f%%", in.Volatility*100, in.MaxVolatility*100))
	}

	return len(reasons) > 0, reasons
}
