package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits configures the pre-trade checks applied to every signal.
type RiskLimits struct {
	MaxPositionSize decimal.Decimal // Cap on notional per position, in quote currency
	MaxDailyLoss    decimal.Decimal // Daily realized-loss cap, in quote currency
	TotalSlots      int             // Shared pool of concurrent-position slots
	Leverage        int             // Account leverage applied to the size cap
	SizeTolerance   decimal.Decimal // Fractional tolerance on the size cap (e.g., 0.01)
	MarginSafety    decimal.Decimal // Minimum margin ratio for new leveraged trades
}

// DailyRiskState accumulates realized PnL and trade count for the current
// day, reset at a fixed daily boundary (UTC midnight).
type DailyRiskState struct {
	Day    time.Time // Truncated to the day boundary
	PnL    decimal.Decimal
	Trades int
}

// SameDay reports whether t falls inside the state's current day.
func (d *DailyRiskState) SameDay(t time.Time) bool {
	return d.Day.Equal(t.UTC().Truncate(24 * time.Hour))
}

// Reset starts a fresh day at t's boundary.
func (d *DailyRiskState) Reset(t time.Time) {
	d.Day = t.UTC().Truncate(24 * time.Hour)
	d.PnL = decimal.Zero
	d.Trades = 0
}
