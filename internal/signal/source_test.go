package signal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedgerBot/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func price(s string) domain.Price {
	return domain.NewPrice(d(s), "DOGEUSDT")
}

func TestConfiguredStrategy(t *testing.T) {
	src, err := NewConfiguredStrategy("threshold", d("0.20"), d("0.30"))
	require.NoError(t, err)
	assert.Equal(t, "threshold", src.Owner())

	tests := []struct {
		name  string
		price string
		want  domain.SignalAction
	}{
		{name: "below buy threshold", price: "0.19", want: domain.ActionBuy},
		{name: "at buy threshold", price: "0.20", want: domain.ActionBuy},
		{name: "between thresholds", price: "0.25", want: domain.ActionHold},
		{name: "at sell threshold", price: "0.30", want: domain.ActionSell},
		{name: "above sell threshold", price: "0.31", want: domain.ActionSell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := src.Evaluate(context.Background(), "DOGEUSDT", price(tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.want, action)
		})
	}
}

func TestConfiguredStrategyDisabledSides(t *testing.T) {
	// A zero sell threshold disables selling entirely.
	src, err := NewConfiguredStrategy("buyonly", d("0.20"), decimal.Zero)
	require.NoError(t, err)

	action, err := src.Evaluate(context.Background(), "DOGEUSDT", price("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, action)

	_, err = NewConfiguredStrategy("", d("0.20"), decimal.Zero)
	assert.Error(t, err)
}

func TestLegacyAdapter(t *testing.T) {
	var gotSymbol string
	var gotPrice float64
	src, err := NewLegacyAdapter("legacy", func(symbol string, price float64) string {
		gotSymbol = symbol
		gotPrice = price
		return "long"
	})
	require.NoError(t, err)

	action, err := src.Evaluate(context.Background(), "DOGEUSDT", price("0.25"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, action)
	assert.Equal(t, "DOGEUSDT", gotSymbol)
	assert.InDelta(t, 0.25, gotPrice, 1e-9)

	tests := []struct {
		decision string
		want     domain.SignalAction
	}{
		{decision: "BUY", want: domain.ActionBuy},
		{decision: "SELL", want: domain.ActionSell},
		{decision: "short", want: domain.ActionSell},
		{decision: "HOLD", want: domain.ActionHold},
		{decision: "garbage", want: domain.ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.decision, func(t *testing.T) {
			src, err := NewLegacyAdapter("legacy", func(string, float64) string { return tt.decision })
			require.NoError(t, err)
			action, err := src.Evaluate(context.Background(), "DOGEUSDT", price("1"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, action)
		})
	}

	_, err = NewLegacyAdapter("legacy", nil)
	assert.Error(t, err)
}

func TestCrossoverStrategyValidation(t *testing.T) {
	_, err := NewCrossoverStrategy("", 2, 4)
	assert.Error(t, err)
	_, err = NewCrossoverStrategy("ma", 0, 4)
	assert.Error(t, err)
	_, err = NewCrossoverStrategy("ma", 4, 4)
	assert.Error(t, err)
}

func feed(t *testing.T, src *CrossoverStrategy, prices ...string) domain.SignalAction {
	t.Helper()
	var last domain.SignalAction
	for _, p := range prices {
		action, err := src.Evaluate(context.Background(), "DOGEUSDT", price(p))
		require.NoError(t, err)
		last = action
	}
	return last
}

func TestCrossoverStrategyHoldsUntilWarm(t *testing.T) {
	src, err := NewCrossoverStrategy("ma", 2, 4)
	require.NoError(t, err)

	// Fewer observations than the slow period never signal.
	assert.Equal(t, domain.ActionHold, feed(t, src, "1", "1", "1"))
	// The first full window establishes the baseline without signalling.
	assert.Equal(t, domain.ActionHold, feed(t, src, "1"))
}

func TestCrossoverStrategySignalsOnCross(t *testing.T) {
	src, err := NewCrossoverStrategy("ma", 2, 4)
	require.NoError(t, err)

	// Flat then rising: the fast average overtakes the slow one.
	feed(t, src, "10", "10", "10", "10")
	assert.Equal(t, domain.ActionBuy, feed(t, src, "12"))
	// Still above, no re-signal while the fast side stays on top.
	assert.Equal(t, domain.ActionHold, feed(t, src, "13"))

	// Falling back through the slow average flips to sell.
	assert.Equal(t, domain.ActionSell, feed(t, src, "7"))
	// A continued fall does not re-signal.
	assert.Equal(t, domain.ActionHold, feed(t, src, "6"))
}

func TestCrossoverStrategyTracksSymbolsIndependently(t *testing.T) {
	src, err := NewCrossoverStrategy("ma", 2, 4)
	require.NoError(t, err)

	feed(t, src, "10", "10", "10", "10")

	// A different symbol starts cold.
	action, err := src.Evaluate(context.Background(), "ETHUSDT", domain.NewPrice(d("100"), "ETHUSDT"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, action)

	// The original symbol's window is unaffected.
	assert.Equal(t, domain.ActionBuy, feed(t, src, "12"))
}
