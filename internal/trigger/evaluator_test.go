package trigger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedgerBot/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

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

func testPosition(side domain.OrderSide) *domain.Position {
	entry := price("0.25")
	sl, tp := domain.StopLevels(entry, side, d("0.04"), d("0.06"))
	return &domain.Position{
		ID:         "pos-1",
		Symbol:     "DOGEUSDT",
		Side:       side,
		Quantity:   domain.NewQuantity(d("100"), "DOGEUSDT"),
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Status:     domain.StatusOpen,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		side       domain.OrderSide
		current    string
		wantHit    bool
		wantReason domain.CloseReason
	}{
		// Long entry 0.25: stop 0.24, target 0.265.
		{name: "long above stop holds", side: domain.Buy, current: "0.2401", wantHit: false},
		{name: "long stop at exact level", side: domain.Buy, current: "0.24", wantHit: true, wantReason: domain.CloseReasonStopLoss},
		{name: "long stop below level", side: domain.Buy, current: "0.20", wantHit: true, wantReason: domain.CloseReasonStopLoss},
		{name: "long below target holds", side: domain.Buy, current: "0.2649", wantHit: false},
		{name: "long target at exact level", side: domain.Buy, current: "0.265", wantHit: true, wantReason: domain.CloseReasonTakeProfit},
		// Short entry 0.25: stop 0.26, target 0.235.
		{name: "short below stop holds", side: domain.Sell, current: "0.2599", wantHit: false},
		{name: "short stop at exact level", side: domain.Sell, current: "0.26", wantHit: true, wantReason: domain.CloseReasonStopLoss},
		{name: "short target at exact level", side: domain.Sell, current: "0.235", wantHit: true, wantReason: domain.CloseReasonTakeProfit},
		{name: "short between levels holds", side: domain.Sell, current: "0.25", wantHit: false},
	}

	e := NewEvaluator(&mockLogger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := testPosition(tt.side)
			breach, hit := e.Evaluate(context.Background(), pos, price(tt.current))
			assert.Equal(t, tt.wantHit, hit)
			if tt.wantHit {
				require.NotNil(t, breach)
				assert.Equal(t, pos.ID, breach.PositionID)
				assert.Equal(t, tt.wantReason, breach.Reason)
				assert.True(t, breach.Price.Value.Equal(d(tt.current)))
			} else {
				assert.Nil(t, breach)
			}
		})
	}
}

func TestEvaluateSkips(t *testing.T) {
	e := NewEvaluator(&mockLogger{})
	ctx := context.Background()

	t.Run("nil position", func(t *testing.T) {
		_, hit := e.Evaluate(ctx, nil, price("0.20"))
		assert.False(t, hit)
	})

	t.Run("terminal position", func(t *testing.T) {
		pos := testPosition(domain.Buy)
		pos.Status = domain.StatusStopped
		_, hit := e.Evaluate(ctx, pos, price("0.20"))
		assert.False(t, hit)
	})

	t.Run("symbol mismatch", func(t *testing.T) {
		pos := testPosition(domain.Buy)
		_, hit := e.Evaluate(ctx, pos, domain.NewPrice(d("0.20"), "ETHUSDT"))
		assert.False(t, hit)
	})

	t.Run("zero price", func(t *testing.T) {
		pos := testPosition(domain.Buy)
		_, hit := e.Evaluate(ctx, pos, domain.NewPrice(decimal.Zero, "DOGEUSDT"))
		assert.False(t, hit)
	})

	t.Run("no levels set", func(t *testing.T) {
		pos := testPosition(domain.Buy)
		pos.StopLoss = domain.Price{}
		pos.TakeProfit = domain.Price{}
		_, hit := e.Evaluate(ctx, pos, price("0.01"))
		assert.False(t, hit)
	})
}

func TestEvaluateAll(t *testing.T) {
	e := NewEvaluator(&mockLogger{})

	breached := testPosition(domain.Buy)
	breached.ID = "breached"
	holding := testPosition(domain.Buy)
	holding.ID = "holding"
	unpriced := testPosition(domain.Buy)
	unpriced.ID = "unpriced"
	unpriced.Symbol = "ETHUSDT"

	prices := map[string]domain.Price{
		"DOGEUSDT": price("0.20"),
	}
	breaches := e.EvaluateAll(context.Background(), []*domain.Position{breached, holding, unpriced}, prices)

	// Both DOGE positions crossed the stop; the ETH one has no price and
	// is skipped.
	require.Len(t, breaches, 2)
	ids := []string{breaches[0].PositionID, breaches[1].PositionID}
	assert.Contains(t, ids, "breached")
	assert.Contains(t, ids, "holding")
	for _, b := range breaches {
		assert.Equal(t, domain.CloseReasonStopLoss, b.Reason)
	}
}
