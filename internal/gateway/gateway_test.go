package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedgerBot/internal/commission"
	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExchange struct {
	filters     *ports.SymbolFilters
	filtersErr  error
	orderResult *ports.OrderResult
	orderErr    error
	placedQty   decimal.Decimal
	placedSide  domain.OrderSide
}

func (m *mockExchange) GetAccount(ctx context.Context) ([]ports.AccountBalance, error) {
	return nil, nil
}
func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	return nil, nil
}
func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal) (*ports.OrderResult, error) {
	m.placedQty = quantity
	m.placedSide = side
	return m.orderResult, m.orderErr
}
func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	return m.filters, m.filtersErr
}
func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (domain.Price, error) {
	return domain.Price{}, nil
}
func (m *mockExchange) Ping(ctx context.Context) error { return nil }

type mockPricer struct {
	price domain.Price
	err   error
}

func (m *mockPricer) GetCurrentPrice(ctx context.Context, symbol string) (domain.Price, error) {
	return m.price, m.err
}

type mockFunds struct {
	reserved []decimal.Decimal
	released []decimal.Decimal
	lockErr  error
}

func (m *mockFunds) Reserve(ctx context.Context, asset string, amount decimal.Decimal) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.reserved = append(m.reserved, amount)
	return nil
}

func (m *mockFunds) Release(ctx context.Context, asset string, amount decimal.Decimal) error {
	m.released = append(m.released, amount)
	return nil
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testFees() *commission.Engine {
	return commission.New(commission.Rates{Maker: d("0.0002"), Taker: d("0.0004")}, "USDT")
}

func newTestGateway(t *testing.T, exchange *mockExchange, pricer *mockPricer, funds *mockFunds) *Gateway {
	t.Helper()
	g, err := New(Config{
		Logger:   &mockLogger{},
		Exchange: exchange,
		Pricer:   pricer,
		Funds:    funds,
		Fees:     testFees(),
		Quote:    "USDT",
	})
	require.NoError(t, err)
	return g
}

func TestNormalizeQuantity(t *testing.T) {
	filters := &ports.SymbolFilters{
		MinQty:      d("0.01"),
		MaxQty:      d("10000"),
		StepSize:    d("0.01"),
		MinNotional: d("1.00"),
	}

	tests := []struct {
		name    string
		desired string
		price   string
		want    string
		wantErr error
	}{
		{
			name:    "floor to step",
			desired: "3.456",
			price:   "10",
			want:    "3.45",
		},
		{
			// 5 at price 0.05 is notional 0.25, below the minimum 1.00;
			// bump to the smallest compliant step: 1.00/0.05 = 20.
			name:    "bump to minimum notional",
			desired: "5",
			price:   "0.05",
			want:    "20",
		},
		{
			name:    "clamp up to min quantity",
			desired: "0.004",
			price:   "1000",
			want:    "0.01",
		},
		{
			name:    "zero price rejected",
			desired: "1",
			price:   "0",
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "zero quantity rejected",
			desired: "0",
			price:   "10",
			wantErr: ports.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeQuantity(d(tt.desired), d(tt.price), filters)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNormalizeQuantityMinNotionalExceedsMax(t *testing.T) {
	filters := &ports.SymbolFilters{
		MaxQty:      d("10"),
		StepSize:    d("1"),
		MinNotional: d("100"),
	}
	_, err := NormalizeQuantity(d("5"), d("1"), filters)
	assert.ErrorIs(t, err, ports.ErrInvalidQuantity)
}

func TestSubmitReservesAndFills(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters: &ports.SymbolFilters{StepSize: d("0.01"), MinNotional: d("1.00")},
		orderResult: &ports.OrderResult{
			OrderID:     42,
			Symbol:      "DOGEUSDT",
			AvgPrice:    d("0.05"),
			ExecutedQty: d("100"),
			Status:      "FILLED",
			Timestamp:   time.Now(),
		},
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	result, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	require.NoError(t, err)

	// 5 USDT at 0.05 is 100 units; margin at 1x is the full notional.
	assert.True(t, exchange.placedQty.Equal(d("100")), "placed %s", exchange.placedQty)
	require.Len(t, funds.reserved, 1)
	assert.True(t, funds.reserved[0].Equal(d("5")))
	assert.Empty(t, funds.released)

	assert.Equal(t, int64(42), result.OrderID)
	assert.True(t, result.Quantity.Value.Equal(d("100")))
	assert.True(t, result.Price.Value.Equal(d("0.05")))
	// Taker fee: 100 x 0.05 x 0.0004.
	assert.True(t, result.Commission.Amount.Equal(d("0.002")), "fee %s", result.Commission.Amount)
}

func TestSubmitLeverageReducesMargin(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters:     &ports.SymbolFilters{StepSize: d("0.001")},
		orderResult: &ports.OrderResult{OrderID: 7, AvgPrice: d("100"), ExecutedQty: d("0.3")},
	}
	pricer := &mockPricer{price: domain.NewPrice(d("100"), "ETHUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	result, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "ETHUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("30"), "USDT"),
		Leverage: 3,
		Owner:    "alpha",
	})
	require.NoError(t, err)
	require.Len(t, funds.reserved, 1)
	assert.True(t, funds.reserved[0].Equal(d("10")), "margin %s", funds.reserved[0])
	assert.True(t, result.ReservedMargin.Equal(d("10")))
}

func TestSubmitReleasesOnRejection(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters:  &ports.SymbolFilters{StepSize: d("0.01")},
		orderErr: &ports.ExchangeError{Code: -2010, Message: "rejected", Sentinel: ports.ErrExchangeRejected},
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	_, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	require.ErrorIs(t, err, ports.ErrExchangeRejected)

	// A definite rejection returns the margin to the free balance.
	require.Len(t, funds.reserved, 1)
	require.Len(t, funds.released, 1)
	assert.True(t, funds.released[0].Equal(funds.reserved[0]))
}

func TestSubmitKeepsReservationOnTimeout(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters:  &ports.SymbolFilters{StepSize: d("0.01")},
		orderErr: ports.ErrTimeout,
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	_, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	require.ErrorIs(t, err, ports.ErrTimeout)

	// Outcome unknown: the reservation must stay for reconciliation.
	require.Len(t, funds.reserved, 1)
	assert.Empty(t, funds.released)

	pending := g.PendingReservations()
	require.Len(t, pending, 1)
	assert.Equal(t, "alpha", pending[0].Owner)
	assert.Equal(t, "DOGEUSDT", pending[0].Symbol)
	assert.Equal(t, domain.Buy, pending[0].Side)
	assert.True(t, pending[0].Quantity.Value.Equal(d("100")))
	assert.True(t, pending[0].Margin.Equal(d("5")))
}

func TestSubmitKeepsReservationOnConnectionFailure(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters:  &ports.SymbolFilters{StepSize: d("0.01")},
		orderErr: fmt.Errorf("PlaceMarketOrder failed: %w: read tcp: connection reset by peer", ports.ErrConnectionFailed),
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	_, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	require.ErrorIs(t, err, ports.ErrConnectionFailed)

	// A reset connection can drop the response of an accepted order, so the
	// margin stays locked until the venue's order set settles the question.
	require.Len(t, funds.reserved, 1)
	assert.Empty(t, funds.released)
	assert.Len(t, g.PendingReservations(), 1)
}

func TestResolveReleasesPendingReservation(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters:  &ports.SymbolFilters{StepSize: d("0.01")},
		orderErr: ports.ErrTimeout,
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	_, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	require.Error(t, err)
	pending := g.PendingReservations()
	require.Len(t, pending, 1)

	require.NoError(t, g.Resolve(ctx, pending[0].ID))
	require.Len(t, funds.released, 1)
	assert.True(t, funds.released[0].Equal(d("5")))
	assert.Empty(t, g.PendingReservations())

	// Already resolved.
	assert.ErrorIs(t, g.Resolve(ctx, pending[0].ID), ports.ErrNotFound)
}

func TestAdoptKeepsMarginLocked(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		filters:  &ports.SymbolFilters{StepSize: d("0.01")},
		orderErr: ports.ErrTimeout,
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{}
	g := newTestGateway(t, exchange, pricer, funds)

	_, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Sell,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	require.Error(t, err)
	pending := g.PendingReservations()
	require.Len(t, pending, 1)

	res, ok := g.Adopt(pending[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.Sell, res.Side)
	assert.True(t, res.Margin.Equal(d("5")))
	// Adoption transfers the lock to the new position; nothing is released.
	assert.Empty(t, funds.released)
	assert.Empty(t, g.PendingReservations())

	_, ok = g.Adopt(pending[0].ID)
	assert.False(t, ok)
}

func TestSubmitInsufficientLedgerFunds(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{filters: &ports.SymbolFilters{StepSize: d("0.01")}}
	pricer := &mockPricer{price: domain.NewPrice(d("0.05"), "DOGEUSDT")}
	funds := &mockFunds{lockErr: ports.ErrInsufficientFunds}
	g := newTestGateway(t, exchange, pricer, funds)

	_, err := g.Submit(ctx, SubmitRequest{
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Notional: domain.NewMoney(d("5"), "USDT"),
		Leverage: 1,
		Owner:    "alpha",
	})
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Empty(t, funds.reserved)
}

func TestCloseUsesOppositeSide(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		orderResult: &ports.OrderResult{OrderID: 9, AvgPrice: d("0.06"), ExecutedQty: d("100")},
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.06"), "DOGEUSDT")}
	g := newTestGateway(t, exchange, pricer, &mockFunds{})

	pos := &domain.Position{
		ID:       "p1",
		Symbol:   "DOGEUSDT",
		Side:     domain.Buy,
		Quantity: domain.NewQuantity(d("100"), "DOGEUSDT"),
	}
	exitPrice, fee, err := g.Close(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, domain.Sell, exchange.placedSide)
	assert.True(t, exitPrice.Value.Equal(d("0.06")))
	// 100 x 0.06 x 0.0004.
	assert.True(t, fee.Amount.Equal(d("0.0024")), "fee %s", fee.Amount)
}

func TestCloseFallsBackToSnapshotPrice(t *testing.T) {
	ctx := context.Background()
	exchange := &mockExchange{
		orderResult: &ports.OrderResult{OrderID: 9, AvgPrice: decimal.Zero, ExecutedQty: d("100")},
	}
	pricer := &mockPricer{price: domain.NewPrice(d("0.055"), "DOGEUSDT")}
	g := newTestGateway(t, exchange, pricer, &mockFunds{})

	pos := &domain.Position{
		ID:       "p1",
		Symbol:   "DOGEUSDT",
		Side:     domain.Sell,
		Quantity: domain.NewQuantity(d("100"), "DOGEUSDT"),
	}
	exitPrice, _, err := g.Close(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, exchange.placedSide)
	assert.True(t, exitPrice.Value.Equal(d("0.055")))
}
