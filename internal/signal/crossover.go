package signal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// CrossoverStrategy is a SignalSource that accumulates the prices it is
// shown and emits BUY when the fast simple moving average crosses above the
// slow one, SELL when it crosses below. It holds until both windows are
// full, so the first signals arrive only after slowPeriod observations.
type CrossoverStrategy struct {
	owner      string
	fastPeriod int
	slowPeriod int
	windows    map[string][]decimal.Decimal
	prevDiff   map[string]decimal.Decimal
}

// NewCrossoverStrategy creates a moving-average crossover source.
func NewCrossoverStrategy(owner string, fastPeriod, slowPeriod int) (*CrossoverStrategy, error) {
	if owner == "" {
		return nil, fmt.Errorf("strategy owner is required: %w", ports.ErrConfigurationError)
	}
	if fastPeriod <= 0 || slowPeriod <= fastPeriod {
		return nil, fmt.Errorf("crossover periods must satisfy 0 < fast < slow, got %d/%d: %w",
			fastPeriod, slowPeriod, ports.ErrConfigurationError)
	}
	return &CrossoverStrategy{
		owner:      owner,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		windows:    make(map[string][]decimal.Decimal),
		prevDiff:   make(map[string]decimal.Decimal),
	}, nil
}

// Owner implements ports.SignalSource.
func (s *CrossoverStrategy) Owner() string { return s.owner }

// Evaluate implements ports.SignalSource. It is called from the engine's
// trigger loop only, one goroutine at a time, so the windows need no lock.
func (s *CrossoverStrategy) Evaluate(_ context.Context, symbol string, price domain.Price) (domain.SignalAction, error) {
	window := append(s.windows[symbol], price.Value)
	if len(window) > s.slowPeriod {
		window = window[len(window)-s.slowPeriod:]
	}
	s.windows[symbol] = window
	if len(window) < s.slowPeriod {
		return domain.ActionHold, nil
	}

	diff := sma(window[len(window)-s.fastPeriod:]).Sub(sma(window))
	prev, seen := s.prevDiff[symbol]
	s.prevDiff[symbol] = diff
	if !seen {
		return domain.ActionHold, nil
	}

	switch {
	case prev.LessThanOrEqual(decimal.Zero) && diff.IsPositive():
		return domain.ActionBuy, nil
	case prev.GreaterThanOrEqual(decimal.Zero) && diff.IsNegative():
		return domain.ActionSell, nil
	}
	return domain.ActionHold, nil
}

func sma(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(values))))
}
