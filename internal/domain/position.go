package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents a single open exposure tracked until closed.
type Position struct {
	ID           string         // Unique identifier (UUID)
	Symbol       string         // Trading symbol (e.g., "ETHUSDT")
	Side         OrderSide      // BUY (long) or SELL (short)
	Quantity     Quantity       // Size of the position
	EntryPrice   Price          // Price at which the position was entered
	CurrentPrice Price          // Most recently observed price
	ExitPrice    Price          // Price at which the position was exited (zero if open)
	Leverage     int            // Leverage used for the position
	StopLoss     Price          // Absolute stop-loss level, fixed at open time
	TakeProfit   Price          // Absolute take-profit level, fixed at open time
	Status       PositionStatus // Current status in the state machine
	Owner        string         // Identifier of the strategy that opened the position
	OrderID      int64          // Backing exchange order id

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time // Zero value while the position is open

	RealizedPnL Money       // Set on close, net of fees
	CloseReason CloseReason // Reason for closing (SL, TP, manual, reconciled)
}

// IsOpen reports whether the position is still in a non-terminal status.
func (p *Position) IsOpen() bool {
	return !p.Status.IsTerminal()
}

// UnrealizedPnL computes the side-aware gross profit at the given price,
// denominated in the quote currency. Fees are not included.
func (p *Position) UnrealizedPnL(current Price, quoteCurrency string) (Money, error) {
	if current.Symbol != p.Symbol {
		return Money{}, ErrUnitMismatch
	}
	diff := current.Value.Sub(p.EntryPrice.Value)
	if p.Side == Sell {
		diff = diff.Neg()
	}
	return NewMoney(diff.Mul(p.Quantity.Value), quoteCurrency), nil
}

// StopLevels derives the absolute stop-loss and take-profit prices for an
// entry. For a long the stop sits stopPct below entry and the target
// profitPct above; for a short both flip.
func StopLevels(entry Price, side OrderSide, stopPct, profitPct decimal.Decimal) (stopLoss, takeProfit Price) {
	one := decimal.NewFromInt(1)
	if side == Buy {
		stopLoss = NewPrice(entry.Value.Mul(one.Sub(stopPct)), entry.Symbol)
		takeProfit = NewPrice(entry.Value.Mul(one.Add(profitPct)), entry.Symbol)
		return stopLoss, takeProfit
	}
	stopLoss = NewPrice(entry.Value.Mul(one.Add(stopPct)), entry.Symbol)
	takeProfit = NewPrice(entry.Value.Mul(one.Sub(profitPct)), entry.Symbol)
	return stopLoss, takeProfit
}

// Clone returns a copy safe to hand out without exposing internal state.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
