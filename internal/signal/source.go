package signal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// ConfiguredStrategy is the built-in SignalSource variant: simple threshold
// rules wired from configuration. It buys below the buy threshold and sells
// above the sell threshold, holding in between. The real decision rules live
// outside the engine; this variant exists so the engine can run end to end
// without an external bot attached.
type ConfiguredStrategy struct {
	owner     string
	buyBelow  decimal.Decimal
	sellAbove decimal.Decimal
}

// NewConfiguredStrategy creates a threshold strategy. Zero thresholds
// disable the corresponding side.
func NewConfiguredStrategy(owner string, buyBelow, sellAbove decimal.Decimal) (*ConfiguredStrategy, error) {
	if owner == "" {
		return nil, fmt.Errorf("strategy owner is required: %w", ports.ErrConfigurationError)
	}
	return &ConfiguredStrategy{owner: owner, buyBelow: buyBelow, sellAbove: sellAbove}, nil
}

// Owner implements ports.SignalSource.
func (s *ConfiguredStrategy) Owner() string { return s.owner }

// Evaluate implements ports.SignalSource.
func (s *ConfiguredStrategy) Evaluate(_ context.Context, _ string, price domain.Price) (domain.SignalAction, error) {
	if s.buyBelow.IsPositive() && price.Value.LessThanOrEqual(s.buyBelow) {
		return domain.ActionBuy, nil
	}
	if s.sellAbove.IsPositive() && price.Value.GreaterThanOrEqual(s.sellAbove) {
		return domain.ActionSell, nil
	}
	return domain.ActionHold, nil
}

// DecisionFunc is the callback shape legacy bots expose.
type DecisionFunc func(symbol string, price float64) string

// LegacyAdapter wraps a legacy bot's decision callback as a SignalSource.
// The variant is chosen at construction time; the engine never type-switches
// on it.
type LegacyAdapter struct {
	owner  string
	decide DecisionFunc
}

// NewLegacyAdapter wraps a legacy decision callback.
func NewLegacyAdapter(owner string, decide DecisionFunc) (*LegacyAdapter, error) {
	if owner == "" || decide == nil {
		return nil, fmt.Errorf("legacy adapter requires an owner and a decision callback: %w", ports.ErrConfigurationError)
	}
	return &LegacyAdapter{owner: owner, decide: decide}, nil
}

// Owner implements ports.SignalSource.
func (a *LegacyAdapter) Owner() string { return a.owner }

// Evaluate implements ports.SignalSource. Unrecognized legacy outputs map
// to HOLD.
func (a *LegacyAdapter) Evaluate(_ context.Context, symbol string, price domain.Price) (domain.SignalAction, error) {
	f, _ := price.Value.Float64()
	switch a.decide(symbol, f) {
	case "BUY", "buy", "LONG", "long":
		return domain.ActionBuy, nil
	case "SELL", "sell", "SHORT", "short":
		return domain.ActionSell, nil
	default:
		return domain.ActionHold, nil
	}
}
