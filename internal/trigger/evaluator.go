package trigger

import (
	"context"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// Breach describes a stop-loss or take-profit threshold crossing.
type Breach struct {
	PositionID string
	Reason     domain.CloseReason
	Price      domain.Price
}

// Evaluator compares open positions against their stop-loss/take-profit
// levels, which are absolute prices fixed at open time.
type Evaluator struct {
	logger ports.Logger
}

// NewEvaluator creates a trigger evaluator.
func NewEvaluator(logger ports.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate checks one position at the current price and returns a breach
// when a threshold is crossed. Re-evaluating an already-closing position is
// a no-op.
func (e *Evaluator) Evaluate(ctx context.Context, pos *domain.Position, current domain.Price) (*Breach, bool) {
	if pos == nil || pos.Status.IsTerminal() {
		return nil, false
	}
	if current.Symbol != pos.Symbol || current.IsZero() {
		return nil, false
	}

	var reason domain.CloseReason
	switch pos.Side {
	case domain.Buy:
		if !pos.StopLoss.IsZero() && current.Value.LessThanOrEqual(pos.StopLoss.Value) {
			reason = domain.CloseReasonStopLoss
		} else if !pos.TakeProfit.IsZero() && current.Value.GreaterThanOrEqual(pos.TakeProfit.Value) {
			reason = domain.CloseReasonTakeProfit
		}
	case domain.Sell:
		if !pos.StopLoss.IsZero() && current.Value.GreaterThanOrEqual(pos.StopLoss.Value) {
			reason = domain.CloseReasonStopLoss
		} else if !pos.TakeProfit.IsZero() && current.Value.LessThanOrEqual(pos.TakeProfit.Value) {
			reason = domain.CloseReasonTakeProfit
		}
	}
	if reason == "" {
		return nil, false
	}

	e.logger.Info(ctx, "Trigger threshold breached", map[string]interface{}{
		"positionID": pos.ID,
		"reason":     reason,
		"entry":      pos.EntryPrice.String(),
		"current":    current.String(),
	})
	return &Breach{PositionID: pos.ID, Reason: reason, Price: current}, true
}

// EvaluateAll checks every position at its symbol's current price and
// collects the breaches.
func (e *Evaluator) EvaluateAll(ctx context.Context, positions []*domain.Position, prices map[string]domain.Price) []*Breach {
	var breaches []*Breach
	for _, pos := range positions {
		current, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		if breach, hit := e.Evaluate(ctx, pos, current); hit {
			breaches = append(breaches, breach)
		}
	}
	return breaches
}
